package generation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates/plan_prompt.tmpl
var defaultPromptTemplate string

// PromptField is one flattened key/value pair of the input payload.
type PromptField struct {
	Key   string
	Value string
}

type promptData struct {
	SubjectName string
	Fields      []PromptField
	Payload     string
}

// PromptBuilder renders generation prompts from a text/template.
//
// Templates receive .SubjectName, .Fields (the payload flattened into sorted
// key/value pairs) and .Payload (the indented raw JSON).
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder parses the template at path, or the built-in plan prompt
// when path is empty.
func NewPromptBuilder(path string) (*PromptBuilder, error) {
	source := defaultPromptTemplate
	name := "plan_prompt"

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v", ErrInvalidConfig, path, err)
		}
		source = string(content)
		name = path
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	return &PromptBuilder{tmpl: tmpl}, nil
}

// Build renders the prompt for req.
func (b *PromptBuilder) Build(req Request) (string, error) {
	if len(bytes.TrimSpace(req.Payload)) == 0 {
		return "", fmt.Errorf("%w: payload is empty", ErrInvalidInput)
	}

	var decoded any
	if err := json.Unmarshal(req.Payload, &decoded); err != nil {
		return "", fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidInput, err)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, req.Payload, "", "  "); err != nil {
		return "", fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidInput, err)
	}

	data := promptData{
		SubjectName: req.SubjectName,
		Fields:      flatten("", decoded, nil),
		Payload:     indented.String(),
	}

	var out bytes.Buffer
	if err := b.tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return out.String(), nil
}

// flatten turns nested JSON into dotted keys. Arrays of scalars are joined
// with commas; arrays of objects are indexed.
func flatten(prefix string, value any, fields []PromptField) []PromptField {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = flatten(joinKey(prefix, k), v[k], fields)
		}
	case []any:
		if scalars, ok := joinScalars(v); ok {
			return append(fields, PromptField{Key: keyOrValue(prefix), Value: scalars})
		}
		for i, item := range v {
			fields = flatten(fmt.Sprintf("%s[%d]", keyOrValue(prefix), i), item, fields)
		}
	case nil:
		// Absent values carry no information for the prompt.
	default:
		fields = append(fields, PromptField{Key: keyOrValue(prefix), Value: fmt.Sprint(v)})
	}
	return fields
}

func joinKey(prefix, key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func keyOrValue(prefix string) string {
	if prefix == "" {
		return "value"
	}
	return prefix
}

func joinScalars(items []any) (string, bool) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			return "", false
		}
		parts = append(parts, fmt.Sprint(item))
	}
	return strings.Join(parts, ", "), true
}

// SystemInstruction frames every generation call regardless of provider.
const SystemInstruction = "You are an experienced emergency management consultant. " +
	"Write clear, specific and actionable emergency response plans in Markdown. " +
	"Never invent regulatory citations; flag anything that needs local verification."
