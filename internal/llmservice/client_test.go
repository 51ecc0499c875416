package llmservice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	"persona-rag/internal/config"
	"persona-rag/internal/models"
)

type fakeModel struct {
	reply  string
	err    error
	delay  time.Duration
	calls  atomic.Int32
	prompt atomic.Value
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if p, ok := messages[0].Parts[0].(llms.TextContent); ok {
			f.prompt.Store(p.Text)
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestComplete(t *testing.T) {
	m := &fakeModel{reply: "Stay hungry."}
	c := NewWithModel(m, &config.LLMConfig{Provider: "fake", Model: "m"})
	got, err := c.Complete(context.Background(), "advice?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Stay hungry." {
		t.Errorf("got %q", got)
	}
	if p, _ := m.prompt.Load().(string); p != "advice?" {
		t.Errorf("prompt sent = %q", p)
	}
}

func TestComplete_Failure(t *testing.T) {
	c := NewWithModel(&fakeModel{err: errors.New("503")}, &config.LLMConfig{})
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, models.ErrGeneration) {
		t.Errorf("expected generation failure, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	c := NewWithModel(&emptyModel{}, &config.LLMConfig{})
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, models.ErrGeneration) {
		t.Errorf("expected generation failure, got %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	c := NewWithModel(&fakeModel{reply: "late", delay: time.Second}, &config.LLMConfig{Timeout: 20 * time.Millisecond})
	_, err := c.Complete(context.Background(), "x")
	if !errors.Is(err, models.ErrGeneration) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a timed out generation failure, got %v", err)
	}
}

func TestComplete_BreakerOpens(t *testing.T) {
	m := &fakeModel{err: errors.New("down")}
	c := NewWithModel(m, &config.LLMConfig{Breaker: true})
	for i := 0; i < 5; i++ {
		if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, models.ErrGeneration) {
			t.Fatalf("call %d: expected generation failure, got %v", i, err)
		}
	}
	if got := m.calls.Load(); got != 3 {
		t.Errorf("model called %d times, breaker should open after 3", got)
	}
}

func TestComplete_RateLimitHonoursContext(t *testing.T) {
	c := NewWithModel(&fakeModel{reply: "ok"}, &config.LLMConfig{RatePerMinute: 1})
	if _, err := c.Complete(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, "second"); !errors.Is(err, models.ErrGeneration) {
		t.Errorf("expected generation failure while rate limited, got %v", err)
	}
}

func TestNewModel_UnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), &config.LLMConfig{Provider: "nope"}); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

type emptyModel struct{}

func (emptyModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func (emptyModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", nil
}
