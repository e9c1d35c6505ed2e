package counsellor

import (
	"context"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient adapts the official genai client to LLMClient.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func contents(turns []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		out = append(out, &genai.Content{
			Role:  t.Role,
			Parts: []*genai.Part{{Text: t.Text}},
		})
	}
	return out
}

func generateConfig(system string) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (g *GeminiClient) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents(turns), generateConfig(system))
	if err != nil {
		return "", err
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (g *GeminiClient) Stream(ctx context.Context, system string, turns []Turn, onDelta func(chunk string)) (string, error) {
	var full strings.Builder
	for resp, err := range g.cli.Models.GenerateContentStream(ctx, g.model, contents(turns), generateConfig(system)) {
		if err != nil {
			return "", err
		}
		chunk := responseText(resp)
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}
	if full.Len() == 0 {
		return "", ErrEmptyReply
	}
	return full.String(), nil
}
