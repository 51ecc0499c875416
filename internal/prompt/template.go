// Package prompt holds persona prompt templates with a context and a
// question slot.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"

	"persona-rag/internal/models"
)

const (
	ContextVar  = "context"
	QuestionVar = "question"
)

const (
	contextMarker  = "\x00ctx\x00"
	questionMarker = "\x00q\x00"
)

// Template is a validated f-string template, {context} and {question} each
// appear in it and no other variable does.
type Template struct {
	text string
}

// Parse validates text and returns the template. Failures wrap
// models.ErrTemplate.
func Parse(text string) (Template, error) {
	if strings.TrimSpace(text) == "" {
		return Template{}, fmt.Errorf("%w: template is empty", models.ErrTemplate)
	}
	if err := checkBraces(text); err != nil {
		return Template{}, fmt.Errorf("%w: %v", models.ErrTemplate, err)
	}
	if err := prompts.CheckValidTemplate(text, prompts.TemplateFormatFString, []string{ContextVar, QuestionVar}); err != nil {
		return Template{}, fmt.Errorf("%w: %v", models.ErrTemplate, err)
	}

	// both slots must actually be used
	out, err := render(text, contextMarker, questionMarker)
	if err != nil {
		return Template{}, fmt.Errorf("%w: %v", models.ErrTemplate, err)
	}
	for name, marker := range map[string]string{ContextVar: contextMarker, QuestionVar: questionMarker} {
		if !strings.Contains(out, marker) {
			return Template{}, fmt.Errorf("%w: missing {%s} slot", models.ErrTemplate, name)
		}
	}
	return Template{text: text}, nil
}

func (t Template) String() string { return t.text }

// IsZero reports whether t was never parsed
func (t Template) IsZero() bool { return t.text == "" }

// Render substitutes both slots
func (t Template) Render(context, question string) (string, error) {
	if t.IsZero() {
		return "", models.NewError(models.KindConfiguration, "prompt.Render", fmt.Errorf("%w: template not parsed", models.ErrTemplate))
	}
	out, err := render(t.text, context, question)
	if err != nil {
		return "", models.NewError(models.KindConfiguration, "prompt.Render", fmt.Errorf("%w: %v", models.ErrTemplate, err))
	}
	return out, nil
}

// checkBraces rejects unmatched braces; {{ and }} are literal braces
func checkBraces(text string) error {
	open := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if open >= 0 {
				return fmt.Errorf("unclosed brace at offset %d", open)
			}
			if i+1 < len(text) && text[i+1] == '{' {
				i++
				continue
			}
			open = i
		case '}':
			if open >= 0 {
				open = -1
				continue
			}
			if i+1 < len(text) && text[i+1] == '}' {
				i++
				continue
			}
			return fmt.Errorf("unmatched closing brace at offset %d", i)
		}
	}
	if open >= 0 {
		return fmt.Errorf("unclosed brace at offset %d", open)
	}
	return nil
}

func render(text, context, question string) (string, error) {
	return prompts.RenderTemplate(text, prompts.TemplateFormatFString, map[string]any{
		ContextVar:  context,
		QuestionVar: question,
	})
}

// UnmarshalYAML lets templates be parsed straight from a persona catalogue
func (t *Template) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = parsed
	return nil
}

func (t Template) MarshalYAML() (any, error) {
	return t.text, nil
}
