// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package ai wraps the external multimodal image generation backend.
// One call turns one prompt (plus optional reference images) into exactly
// one generated image.
package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"postforge/internal/models"
)

// ErrGenerationFailed marks a single prompt that produced no image. It is
// never retried here; callers decide what a failure means for their batch.
var ErrGenerationFailed = errors.New("ai: generation failed")

// ImageGenerator is implemented by image backends.
type ImageGenerator interface {
	// GenerateImage produces one image for req. The same reference images
	// may be passed to many calls; implementations must not modify them.
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
}

// ImageRequest is a single prompt with its batch-wide directives.
type ImageRequest struct {
	Prompt      string
	References  []models.ReferenceImage
	AspectRatio string
	ImageSize   string
	Style       string
}

// Image is a generated image buffer.
type Image struct {
	Data     []byte
	MimeType string
}

// ProviderConfig holds the credentials and settings for the image backend.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// StyledPrompt prefixes prompt with the style directive. An empty style or
// the "none" sentinel leaves the prompt unchanged.
func StyledPrompt(prompt, style string) string {
	style = strings.TrimSpace(style)
	if style == "" || style == models.StyleNone {
		return prompt
	}
	return style + " style: " + prompt
}

// aspectRatioDirective returns the aspect ratio to send, or "" when the
// directive must be omitted.
func aspectRatioDirective(ratio string) string {
	ratio = strings.TrimSpace(ratio)
	if ratio == models.AspectRatioAuto {
		return ""
	}
	return ratio
}
