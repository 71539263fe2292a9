package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig locates the mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPDispatcher sends messages as MIME email with the artifact attached.
type SMTPDispatcher struct {
	cfg      SMTPConfig
	sender   Sender
	sendMail sendMailFunc
	now      func() time.Time
}

var _ Dispatcher = (*SMTPDispatcher)(nil)

// NewSMTPDispatcher creates an SMTPDispatcher.
func NewSMTPDispatcher(cfg SMTPConfig, sender Sender) *SMTPDispatcher {
	return &SMTPDispatcher{
		cfg:      cfg,
		sender:   sender,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send builds the email and hands it to the relay. The relay call itself has
// no context support; Send stops waiting when ctx is done.
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	to, err := mail.ParseAddress(msg.Recipient)
	if err != nil {
		return deliveryError("smtp", fmt.Errorf("invalid recipient: %w", err))
	}

	body, err := d.buildMessage(to, msg)
	if err != nil {
		return deliveryError("smtp", err)
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	done := make(chan error, 1)
	go func() {
		done <- d.sendMail(addr, auth, d.sender.Address, []string{to.Address}, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return deliveryError("smtp", err)
		}
		return nil
	case <-ctx.Done():
		return deliveryError("smtp", ctx.Err())
	}
}

func (d *SMTPDispatcher) buildMessage(to *mail.Address, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	from := &mail.Address{Name: d.sender.Name, Address: d.sender.Address}
	headers := []string{
		"From: " + from.String(),
		"To: " + to.String(),
		"Subject: " + mime.QEncoding.Encode("utf-8", headerSafe(msg.Subject)),
		"Date: " + d.now().UTC().Format(time.RFC1123Z),
		"Message-ID: <" + msg.TaskID.String() + "." + string(msg.Kind) + "@" + domainOf(d.sender.Address) + ">",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=" + w.Boundary(),
	}
	if d.sender.ReplyTo != "" {
		headers = append(headers, "Reply-To: "+headerSafe(d.sender.ReplyTo))
	}
	buf.WriteString(strings.Join(headers, "\r\n"))
	buf.WriteString("\r\n\r\n")

	text, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(text, []byte(msg.Body)); err != nil {
		return nil, err
	}

	if msg.AttachmentRef != "" {
		content, err := os.ReadFile(msg.AttachmentRef)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}

		name := filepath.Base(msg.AttachmentRef)
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {mime.FormatMediaType("application/octet-stream", map[string]string{"name": name})},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, err
		}
		if err := writeBase64(part, content); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64 writes data base64-encoded in 76 character lines.
func writeBase64(w interface{ Write([]byte) (int, error) }, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := w.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := w.Write([]byte(encoded + "\r\n"))
	return err
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "localhost"
}
