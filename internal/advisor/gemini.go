package advisor

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// GeminiGenerator 使用 Gemini 生成回复。
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator 创建生成器。apiKey 为空时返回错误。
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate 发送整段对话并返回模型文本。
func (g *GeminiGenerator) Generate(ctx context.Context, contents []Message) (string, error) {
	parts := make([]*genai.Content, 0, len(contents))
	for _, m := range contents {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		parts = append(parts, genai.NewContentFromText(m.Content, role))
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, parts, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
