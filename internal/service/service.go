// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package service implements the draft review and template workflows on
// top of the generation pipeline. Services validate input before any side
// effect, persist entities before generating, and translate storage
// conflicts into the caller-facing error taxonomy below.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"postforge/internal/generation"
	"postforge/internal/imaging"
	"postforge/internal/models"
	"postforge/internal/store"
)

// Caller-facing errors. Handlers map them to HTTP statuses.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
)

// DefaultGenerationTimeout bounds a batch once it is detached from the
// caller's request.
const DefaultGenerationTimeout = 5 * time.Minute

// DraftRepository persists drafts.
type DraftRepository interface {
	Create(ctx context.Context, d *models.Draft) (*models.Draft, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	List(ctx context.Context, f store.DraftFilter) ([]models.Draft, error)
	FinishGeneration(ctx context.Context, id uuid.UUID, previews []models.PreviewImage, status models.DraftStatus, errMsg *string) error
	Approve(ctx context.Context, draftID uuid.UUID, tmpl *models.Template, previews []models.PreviewImage) (*models.Template, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Draft, error)
}

// TemplateRepository persists templates.
type TemplateRepository interface {
	Create(ctx context.Context, t *models.Template) (*models.Template, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Template, error)
	ListPublic(ctx context.Context, f store.TemplateFilter) ([]models.Template, error)
	FinishGeneration(ctx context.Context, id uuid.UUID, variations []models.Variation, status models.TemplateStatus, errMsg *string) error
	UpdateMetadata(ctx context.Context, id uuid.UUID, m models.TemplateMetadata) (*models.Template, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Template, error)
}

// ArtifactStore stores and removes image artifacts.
type ArtifactStore interface {
	UploadArtifact(ctx context.Context, data []byte, mimeType, namespace string) (string, error)
	DeleteByURL(ctx context.Context, url string) error
}

// ImageResolver turns caller-supplied sources into verified images.
type ImageResolver interface {
	ResolveAll(ctx context.Context, srcs []imaging.Source) ([]models.ReferenceImage, error)
}

// BatchRunner generates and stores one image per prompt.
type BatchRunner interface {
	Run(ctx context.Context, b generation.Batch) generation.Result
}

// ListCache caches public template listings.
type ListCache interface {
	Get(ctx context.Context, category models.Category) ([]models.Template, bool)
	Set(ctx context.Context, category models.Category, list []models.Template)
	InvalidateAll(ctx context.Context)
}

// Options configure the services.
type Options struct {
	// GenerationTimeout bounds a batch after it is detached from the
	// request. Zero selects DefaultGenerationTimeout.
	GenerationTimeout time.Duration
}

func (o Options) generationTimeout() time.Duration {
	if o.GenerationTimeout <= 0 {
		return DefaultGenerationTimeout
	}
	return o.GenerationTimeout
}

// detach returns a context that survives the caller going away but still
// carries its values, bounded by timeout.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		c := models.Category(fl.Field().String())
		return c == "" || c.Valid()
	})
	return v
}

// validateInput runs struct validation and folds failures into
// ErrInvalidRequest.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field '%s' failed on the '%s' rule", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s (%s)", msg, fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// trimAll trims every string and returns a new slice.
func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// defaultCategory maps the empty category to "other".
func defaultCategory(c models.Category) models.Category {
	if c == "" {
		return models.CategoryOther
	}
	return c
}

// selectIndices resolves a caller selection against n items. A nil
// selection picks everything. Out-of-range and repeated indices are
// ignored; the result is ascending.
func selectIndices(selected []int, n int) []int {
	if selected == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := make([]bool, n)
	for _, i := range selected {
		if i >= 0 && i < n {
			picked[i] = true
		}
	}
	var out []int
	for i, ok := range picked {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// failureSummary is the error message stored next to a partially failed batch.
func failureSummary(res generation.Result) *string {
	if len(res.Failures) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d of %d images failed to generate",
		len(res.Failures), len(res.Failures)+len(res.Successes))
	return &msg
}

// resolveReferences resolves srcs and folds image errors into ErrInvalidRequest.
func resolveReferences(ctx context.Context, r ImageResolver, srcs []imaging.Source) ([]models.ReferenceImage, error) {
	if len(srcs) == 0 {
		return nil, nil
	}
	refs, err := r.ResolveAll(ctx, srcs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return refs, nil
}

// uploadReferences stores every reference under namespace and returns the
// URLs in input order. Already uploaded objects are removed on failure.
func uploadReferences(ctx context.Context, a ArtifactStore, refs []models.ReferenceImage, namespace string) ([]string, error) {
	urls := make([]string, 0, len(refs))
	for i, ref := range refs {
		url, err := a.UploadArtifact(ctx, ref.Data, ref.MimeType, namespace)
		if err != nil {
			deleteArtifacts(ctx, a, urls)
			return nil, fmt.Errorf("upload reference %d: %w", i, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// deleteArtifacts removes artifacts best-effort; failures are logged.
func deleteArtifacts(ctx context.Context, a ArtifactStore, urls []string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if err := a.DeleteByURL(ctx, u); err != nil {
			slog.Warn("artifact cleanup failed", "url", u, "error", err)
		}
	}
}

func successURLs(res generation.Result) []string {
	urls := make([]string, len(res.Successes))
	for i, s := range res.Successes {
		urls[i] = s.ImageURL
	}
	return urls
}
