// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package imaging turns caller-supplied reference images into verified
// image buffers. Sources may be URLs, data URLs or raw base64. Every result
// is sniffed, decoded and, when oversized, downscaled before it is handed
// to the generation backend.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder

	"postforge/internal/models"
)

// ErrInvalidImage is returned when a reference cannot be turned into a
// decodable image.
var ErrInvalidImage = errors.New("invalid reference image")

const (
	// MaxImageBytes caps a single reference image.
	MaxImageBytes = 20 << 20

	// DefaultMaxDimension is the longest edge sent to the backend.
	// Larger references are downscaled.
	DefaultMaxDimension = 2048

	// 10000x10000 = 100 million pixels, ~400 MB decoded in RGBA.
	maxImagePixels = 100_000_000

	downscaleJPEGQuality = 90
)

// Resolver fetches and verifies reference images.
type Resolver struct {
	client       *http.Client
	maxBytes     int64
	maxDimension int
}

// NewResolver creates a resolver whose URL fetches are bounded by timeout.
func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		client:       &http.Client{Timeout: timeout},
		maxBytes:     MaxImageBytes,
		maxDimension: DefaultMaxDimension,
	}
}

// Resolve loads src and returns the verified image.
func (r *Resolver) Resolve(ctx context.Context, src Source) (models.ReferenceImage, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case src.URL != "" && src.Data != "":
		return models.ReferenceImage{}, fmt.Errorf("%w: both url and data set", ErrInvalidImage)
	case src.URL != "":
		data, err = r.fetch(ctx, src.URL)
	case src.Data != "":
		data, err = decodeBase64(src.Data)
	default:
		return models.ReferenceImage{}, fmt.Errorf("%w: empty source", ErrInvalidImage)
	}
	if err != nil {
		return models.ReferenceImage{}, err
	}
	if int64(len(data)) > r.maxBytes {
		return models.ReferenceImage{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidImage, len(data), r.maxBytes)
	}
	return r.verify(data)
}

// ResolveAll resolves srcs in order, failing on the first bad source.
func (r *Resolver) ResolveAll(ctx context.Context, srcs []Source) ([]models.ReferenceImage, error) {
	out := make([]models.ReferenceImage, 0, len(srcs))
	for i, src := range srcs {
		img, err := r.Resolve(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		out = append(out, img)
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrInvalidImage, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrInvalidImage, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidImage, url, err)
	}
	return data, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidImage, err)
	}
	return data, nil
}

// verify sniffs the content type from the bytes, checks they decode, and
// downscales references whose longest edge exceeds maxDimension.
func (r *Resolver) verify(data []byte) (models.ReferenceImage, error) {
	if len(data) == 0 {
		return models.ReferenceImage{}, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "image/") {
		return models.ReferenceImage{}, fmt.Errorf("%w: content type %q", ErrInvalidImage, mimeType)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.ReferenceImage{}, fmt.Errorf("%w: decode: %v", ErrInvalidImage, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return models.ReferenceImage{}, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			ErrInvalidImage, cfg.Width, cfg.Height, maxImagePixels)
	}

	if r.maxDimension > 0 && (cfg.Width > r.maxDimension || cfg.Height > r.maxDimension) {
		return downscale(data, format, r.maxDimension)
	}
	return models.ReferenceImage{Data: data, MimeType: mimeType}, nil
}

// downscale fits the image into a maxDim square. JPEG sources stay JPEG,
// everything else is re-encoded as PNG.
func downscale(data []byte, format string, maxDim int) (models.ReferenceImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ReferenceImage{}, fmt.Errorf("%w: decode: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	newW, newH := maxDim, maxDim
	if w >= h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: downscaleJPEGQuality}); err != nil {
			return models.ReferenceImage{}, fmt.Errorf("encode downscaled image: %w", err)
		}
		return models.ReferenceImage{Data: buf.Bytes(), MimeType: "image/jpeg"}, nil
	}
	if err := png.Encode(&buf, dst); err != nil {
		return models.ReferenceImage{}, fmt.Errorf("encode downscaled image: %w", err)
	}
	return models.ReferenceImage{Data: buf.Bytes(), MimeType: "image/png"}, nil
}
