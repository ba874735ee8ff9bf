// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash-image"

	// maxSSELine bounds a single SSE line. Inline images arrive base64
	// encoded in one data line, so this must exceed the largest image.
	maxSSELine = 64 << 20
)

// GeminiProvider implements ImageGenerator using the Gemini REST API
// (POST /v1beta/models/{model}:streamGenerateContent?alt=sse).
type GeminiProvider struct {
	config ProviderConfig
	client *http.Client
}

// NewGemini creates a new Gemini image provider.
func NewGemini(cfg ProviderConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &GeminiProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured image model.
func (p *GeminiProvider) Model() string { return p.config.Model }

// GenerateImage streams a generateContent response and returns the first
// inline image. Later chunks are not read.
func (p *GeminiProvider) GenerateImage(ctx context.Context, req ImageRequest) (*Image, error) {
	payload, err := json.Marshal(buildGeminiImageRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini image marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		p.config.BaseURL, p.config.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini image http: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: gemini image API error (status %d): %s",
			ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return readFirstImage(resp.Body)
}

// buildGeminiImageRequest maps an ImageRequest onto the wire format.
// The text part comes first, followed by one inline part per reference.
func buildGeminiImageRequest(req ImageRequest) geminiImageRequest {
	parts := make([]geminiPart, 0, 1+len(req.References))
	parts = append(parts, geminiPart{Text: StyledPrompt(req.Prompt, req.Style)})
	for _, ref := range req.References {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: ref.MimeType,
			Data:     base64.StdEncoding.EncodeToString(ref.Data),
		}})
	}

	cfg := geminiGenerationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}}
	ratio := aspectRatioDirective(req.AspectRatio)
	size := strings.TrimSpace(req.ImageSize)
	if ratio != "" || size != "" {
		cfg.ImageConfig = &geminiImageConfig{AspectRatio: ratio, ImageSize: size}
	}

	return geminiImageRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: cfg,
	}
}

// readFirstImage consumes SSE events until one carries inline image data.
func readFirstImage(body io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var (
		data       strings.Builder
		lastReason string
	)

	flush := func() (*Image, error) {
		if data.Len() == 0 {
			return nil, nil
		}
		raw := data.String()
		data.Reset()

		var chunk geminiStreamChunk
		if err := json.Unmarshal([]byte(raw), &chunk); err != nil {
			return nil, fmt.Errorf("%w: gemini image decode chunk: %v", ErrGenerationFailed, err)
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("%w: gemini stream error %d: %s",
				ErrGenerationFailed, chunk.Error.Code, chunk.Error.Message)
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			lastReason = "blocked: " + chunk.PromptFeedback.BlockReason
		}
		for _, c := range chunk.Candidates {
			if c.FinishReason != "" {
				lastReason = c.FinishReason
			}
			for _, part := range c.Content.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				imgBytes, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("%w: gemini image decode base64: %v", ErrGenerationFailed, err)
				}
				mimeType := part.InlineData.MimeType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &Image{Data: imgBytes, MimeType: mimeType}, nil
			}
		}
		return nil, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			img, err := flush()
			if img != nil || err != nil {
				return img, err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: gemini image read stream: %v", ErrGenerationFailed, err)
	}

	// A stream may end without a trailing blank line.
	img, err := flush()
	if img != nil || err != nil {
		return img, err
	}

	if lastReason != "" {
		slog.Debug("gemini stream ended without image", "reason", lastReason)
		return nil, fmt.Errorf("%w: no image data in response (%s)", ErrGenerationFailed, lastReason)
	}
	return nil, fmt.Errorf("%w: no image data in response", ErrGenerationFailed)
}

// --- Gemini API types ---

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiStreamChunk struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
