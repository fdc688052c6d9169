package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoMediaProduced signals that the image model answered without a media
// payload. It surfaces as an ErrorResult turn, never as a fatal run error.
var ErrNoMediaProduced = errors.New("no media produced")

const imageSystemPrompt = `You are an image generation assistant.

Your task is to generate images based on:
1. Reference images provided (for consistent character appearance)
2. User's text description

Guidelines:
- Always output an image
- Maintain character consistency with reference images
- Follow the user's prompt for scene, action, and style

Generate the image now based on the user's prompt.`

// ImageGeneratorOptions configures the OpenRouter-backed image capability.
type ImageGeneratorOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	AssetsDir  string // optional folder of reference images inlined into every request
	HTTPClient *http.Client
}

// ImageGenerator creates images from text prompts via an OpenRouter image
// model. Reference images from AssetsDir, when present, are inlined as data
// URIs so generated characters stay visually consistent.
type ImageGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	assetsDir  string
	httpClient *http.Client
}

// NewImageGenerator constructs the image generation capability.
func NewImageGenerator(apiKey string, optFns ...func(o *ImageGeneratorOptions)) *ImageGenerator {
	opts := ImageGeneratorOptions{
		BaseURL:    "https://openrouter.ai/api/v1",
		APIKey:     apiKey,
		Model:      "google/gemini-3-pro-image-preview",
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ImageGenerator{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		assetsDir:  opts.AssetsDir,
		httpClient: opts.HTTPClient,
	}
}

// Descriptor returns the machine-readable description registered for this capability.
func (g *ImageGenerator) Descriptor() Descriptor {
	return Descriptor{
		Name:        GenerateImageName,
		Description: "Generate an image based on a text description. Uses reference images for consistent character appearance.",
		Parameters: []Parameter{
			{Name: "prompt", Description: "Text description of the image to generate", Required: true},
		},
	}
}

// Func adapts the capability to the registry's Func signature.
func (g *ImageGenerator) Func() Func {
	return func(ctx context.Context, params map[string]string) (Result, error) {
		data, err := g.Generate(ctx, params["prompt"])
		if err != nil {
			return nil, err
		}
		return MediaResult{Bytes: data}, nil
	}
}

type imageContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLValue `json:"image_url,omitempty"`
}

type imageURLValue struct {
	URL string `json:"url"`
}

type imageRequest struct {
	Model    string         `json:"model"`
	Messages []imageMessage `json:"messages"`
}

type imageMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imageResponse struct {
	Choices []struct {
		Message struct {
			Images []struct {
				ImageURL imageURLValue `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces raw image bytes for the prompt, or ErrNoMediaProduced if
// the model answered without an image.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if prompt == "" {
		return nil, fmt.Errorf("empty image prompt")
	}

	content := make([]imageContentPart, 0, 8)
	for _, uri := range g.referenceImages() {
		content = append(content, imageContentPart{Type: "image_url", ImageURL: &imageURLValue{URL: uri}})
	}
	content = append(content, imageContentPart{Type: "text", Text: prompt})

	payload := imageRequest{
		Model: g.model,
		Messages: []imageMessage{
			{Role: "system", Content: imageSystemPrompt},
			{Role: "user", Content: content},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("image generation status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(decoded.Choices) == 0 || len(decoded.Choices[0].Message.Images) == 0 {
		return nil, ErrNoMediaProduced
	}

	uri := decoded.Choices[0].Message.Images[0].ImageURL.URL
	idx := strings.Index(uri, ",")
	if !strings.HasPrefix(uri, "data:") || idx < 0 {
		return nil, ErrNoMediaProduced
	}
	data, err := base64.StdEncoding.DecodeString(uri[idx+1:])
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return data, nil
}

// referenceImages loads every supported image in assetsDir as a data URI.
// Missing or unreadable assets are skipped; generation works without them.
func (g *ImageGenerator) referenceImages() []string {
	if g.assetsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(g.assetsDir)
	if err != nil {
		return nil
	}

	mimeTypes := map[string]string{
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
	}

	var uris []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mime, ok := mimeTypes[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(g.assetsDir, entry.Name()))
		if err != nil {
			continue
		}
		uris = append(uris, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(data))
	}
	return uris
}
