package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	target string
}

func NewGemini(ctx context.Context, apiKey, model, targetLanguage string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0)

	return &Gemini{client: client, model: m, target: targetLanguage}, nil
}

func (g *Gemini) Translate(ctx context.Context, text string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt(g.target, text)))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	out := responseText(resp)
	if out == "" {
		return "", errors.New("empty translation")
	}
	return out, nil
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

func prompt(target, text string) string {
	return fmt.Sprintf(
		"Translate the following text into %s. Reply with the translation only, "+
			"keep line breaks, do not add formatting.\n\n%s",
		target, text,
	)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			return s
		}
	}
	return ""
}
