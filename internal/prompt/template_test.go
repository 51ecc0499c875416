package prompt

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"persona-rag/internal/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"both slots", "Context:\n{context}\n\nQuestion: {question}", false},
		{"reversed order", "{question} -- {context}", false},
		{"empty", "   ", true},
		{"missing context", "Question: {question}", true},
		{"missing question", "Context: {context}", true},
		{"unknown variable", "{context} {question} {persona}", true},
		{"unbalanced brace", "{context} {question", true},
		{"unclosed before slot", "{context {question}", true},
		{"stray closing brace", "{context} } {question}", true},
		{"escaped braces", "{{note}} {context} {question}", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			if tt.wantErr {
				if !errors.Is(err, models.ErrTemplate) {
					t.Errorf("expected template error, got %v", err)
				}
				if !errors.Is(err, models.ErrConfiguration) {
					t.Errorf("template error should be a configuration error: %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRender(t *testing.T) {
	tmpl, err := Parse("Context from his words:\n{context}\n\nUser's question: {question}")
	if err != nil {
		t.Fatal(err)
	}
	out, err := tmpl.Render("Stay hungry.", "What should I do {next}?")
	if err != nil {
		t.Fatal(err)
	}
	want := "Context from his words:\nStay hungry.\n\nUser's question: What should I do {next}?"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestRender_ZeroTemplate(t *testing.T) {
	var tmpl Template
	if _, err := tmpl.Render("c", "q"); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestUnmarshalYAML(t *testing.T) {
	var doc struct {
		Prompt Template `yaml:"prompt"`
	}
	if err := yaml.Unmarshal([]byte("prompt: \"{context} / {question}\"\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Prompt.String() != "{context} / {question}" {
		t.Errorf("got %q", doc.Prompt.String())
	}

	err := yaml.Unmarshal([]byte("prompt: \"only {question}\"\n"), &doc)
	if !errors.Is(err, models.ErrTemplate) {
		t.Errorf("expected template error, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error should carry the line: %v", err)
	}
}
