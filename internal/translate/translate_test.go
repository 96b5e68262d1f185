package translate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct {
	out      string
	err      error
	calls    int
	deadline bool
}

func (f *fakeBackend) Translate(ctx context.Context, _ string) (string, error) {
	f.calls++
	_, f.deadline = ctx.Deadline()
	return f.out, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestService_Translates(t *testing.T) {
	b := &fakeBackend{out: "Hallo"}
	s := NewService(b, time.Second, testLogger())

	assert.Equal(t, "Hallo", s.Translate(context.Background(), "Hello"))
	assert.True(t, b.deadline)
}

func TestService_FallsBackOnError(t *testing.T) {
	b := &fakeBackend{err: errors.New("quota exceeded")}
	s := NewService(b, 0, testLogger())

	assert.Equal(t, "Hello", s.Translate(context.Background(), "Hello"))
	assert.False(t, b.deadline)
}

func TestService_FallsBackOnEmptyResult(t *testing.T) {
	s := NewService(&fakeBackend{out: "  "}, 0, testLogger())

	assert.Equal(t, "Hello", s.Translate(context.Background(), "Hello"))
}

func TestService_SkipsBlankInput(t *testing.T) {
	b := &fakeBackend{out: "x"}
	s := NewService(b, 0, testLogger())

	assert.Equal(t, " ", s.Translate(context.Background(), " "))
	assert.Zero(t, b.calls)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(" Bonjour "), genai.Text("le monde")}}},
		},
	}

	assert.Equal(t, "Bonjour le monde", responseText(resp))
	assert.Empty(t, responseText(nil))
}

func TestPrompt(t *testing.T) {
	p := prompt("English", "Hallo Welt")

	assert.Contains(t, p, "into English")
	assert.Contains(t, p, "\n\nHallo Welt")
}
