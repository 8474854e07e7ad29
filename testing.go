package rowbatch

import (
	"context"
	"log/slog"
)

// testInvoker is a mock invoker for testing
type testInvoker struct {
	answer func(prompt string) (string, error)
}

func (t *testInvoker) Generate(ctx context.Context, prompt string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.answer == nil {
		// Return mock JSON response for testing
		return &Response{Text: `{"name": "Test Project", "code": "TEST-123"}`}, nil
	}
	text, err := t.answer(prompt)
	if err != nil {
		return nil, err
	}
	return &Response{Text: text}, nil
}

// NewForTesting creates a Processor that answers every prompt with answer
// instead of calling a model. A nil answer returns a fixed JSON object.
func NewForTesting(answer func(prompt string) (string, error)) *Processor {
	return &Processor{
		invoker: &testInvoker{answer: answer},
		log:     slog.Default(),
	}
}
