package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/listafacil/listafacil-backend/internal/models"
)

// Analyzer turns a session's photos into structured product facts and a
// listing draft seed
type Analyzer interface {
	Analyze(ctx context.Context, images [][]byte) (*models.VisionResult, error)
}

const visionPrompt = `Você é um avaliador de produtos para marketplace.
Analise as fotos e responda SOMENTE com JSON neste formato:
{"confidence":0.0,"facts":{"brand":"","model":"","color":"","material":"","condition":""},
"title":"","description":"","clarifying_questions":[]}
Use "novo" ou "usado" em condition. Deixe campos vazios quando as fotos não mostram evidência.`

// VisionService calls a chat-completions style vision model endpoint
type VisionService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// NewVisionService creates the vision gateway from environment variables
func NewVisionService() (*VisionService, error) {
	apiKey := envOr("VISION_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing VISION_API_KEY in environment variables")
	}
	return &VisionService{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: strings.TrimRight(envOr("VISION_BASE_URL", "https://api.openai.com/v1"), "/"),
		apiKey:  apiKey,
		model:   envOr("VISION_MODEL", "gpt-4o-mini"),
	}, nil
}

type visionContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

// Analyze posts the photos to the model and parses its strict-JSON answer
func (v *VisionService) Analyze(ctx context.Context, images [][]byte) (*models.VisionResult, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to analyze")
	}

	parts := []visionContentPart{{Type: "text", Text: visionPrompt}}
	for _, img := range images {
		part := visionContentPart{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)}
		parts = append(parts, part)
	}

	reqBody := map[string]interface{}{
		"model":           v.model,
		"messages":        []visionMessage{{Role: "user", Content: parts}},
		"max_tokens":      1024,
		"response_format": map[string]string{"type": "json_object"},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision request failed: status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("vision response parse failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("vision response had no choices")
	}

	return ParseVisionContent(completion.Choices[0].Message.Content)
}

// ParseVisionContent parses the model's JSON answer, tolerating markdown
// code fences some models insist on
func ParseVisionContent(content string) (*models.VisionResult, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var result models.VisionResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("vision answer was not valid JSON: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
