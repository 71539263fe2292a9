package notify

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/emplan-api/internal/config"
)

// New returns the dispatcher selected by cfg.Driver and a function releasing
// its resources.
func New(cfg config.NotifyConfig, logger *slog.Logger) (Dispatcher, func() error, error) {
	sender := Sender{Address: cfg.FromAddress, Name: cfg.FromName, ReplyTo: cfg.ReplyTo}
	noop := func() error { return nil }

	switch cfg.Driver {
	case "log":
		return NewLogDispatcher(logger), noop, nil
	case "smtp":
		return NewSMTPDispatcher(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}, sender), noop, nil
	case "nsq":
		d, err := NewNSQDispatcher(cfg.NSQAddr, cfg.NSQTopic, sender)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	case "kafka":
		d, err := NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic, sender)
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}
