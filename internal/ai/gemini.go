package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiProvider talks to the Google generative-language REST API.
// It implements Provider, TitleProvider and ImageProvider.
type GeminiProvider struct {
	BaseURL    string
	APIKey     string
	Model      string
	ImageModel string
	Client     *http.Client
}

func NewGeminiProvider(baseURL, apiKey, model, imageModel string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if imageModel == "" {
		imageModel = "gemini-2.0-flash-exp-image-generation"
	}
	return &GeminiProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		ImageModel: imageModel,
		Client:     &http.Client{Timeout: 90 * time.Second},
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateReq struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResp struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// geminiRole maps our roles onto the wire roles. The API has no
// "assistant" role; it calls the reply side "model".
func geminiRole(role string) string {
	if role == RoleAssistant {
		return "model"
	}
	return role
}

func (p *GeminiProvider) generate(ctx context.Context, model string, req geminiGenerateReq) (*geminiGenerateResp, error) {
	if p.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}

	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.BaseURL, "/"), model, p.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("gemini: %s", msg)
	}

	var decoded geminiGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, errors.New(decoded.Error.Message)
	}
	return &decoded, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		contents = append(contents, geminiContent{
			Role:  geminiRole(m.Role),
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	decoded, err := p.generate(ctx, p.Model, geminiGenerateReq{Contents: contents})
	if err != nil {
		return "", err
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty response")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

func (p *GeminiProvider) Title(ctx context.Context, prompt string) (string, error) {
	decoded, err := p.generate(ctx, p.Model, geminiGenerateReq{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
	})
	if err != nil {
		return "", err
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty response")
	}
	return strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text), nil
}

// GenerateImage asks the image model for inline image data. The response
// mixes text and image parts; the first part carrying inline data wins.
func (p *GeminiProvider) GenerateImage(ctx context.Context, prompt string) (string, error) {
	decoded, err := p.generate(ctx, p.ImageModel, geminiGenerateReq{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"Text", "Image"},
		},
	})
	if err != nil {
		return "", err
	}
	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return part.InlineData.Data, nil
			}
		}
	}
	return "", errors.New("gemini: no image generated")
}
