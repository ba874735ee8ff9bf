// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"postforge/internal/generation"
	"postforge/internal/imaging"
	"postforge/internal/metrics"
	"postforge/internal/models"
	"postforge/internal/slug"
	"postforge/internal/storage"
	"postforge/internal/store"
)

// publicListLimit caps a catalogue listing.
const publicListLimit = 100

// CreateTemplateInput creates a template directly from one reference image.
type CreateTemplateInput struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=2000"`
	Category       models.Category `json:"category" validate:"category"`
	ReferenceImage imaging.Source  `json:"referenceImage"`
	Prompts        []string        `json:"prompts" validate:"required,min=1,max=50,dive,required,max=4000"`
	AspectRatio    string          `json:"aspectRatio" validate:"max=20"`
	ImageSize      string          `json:"imageSize" validate:"max=20"`
	Style          string          `json:"style" validate:"max=100"`
	Tags           []string        `json:"tags" validate:"max=30"`
	IsPublic       bool            `json:"isPublic"`
	CreatedBy      string          `json:"createdBy" validate:"required,max=200"`
}

// ManualVariation is a caller-supplied prompt and image pair.
type ManualVariation struct {
	Prompt   string `json:"prompt" validate:"required,max=4000"`
	ImageURL string `json:"imageUrl" validate:"required,url"`
}

// CreateFromURLsInput creates a completed template without generation.
type CreateFromURLsInput struct {
	Name              string            `json:"name" validate:"required,max=200"`
	Description       string            `json:"description" validate:"max=2000"`
	Category          models.Category   `json:"category" validate:"category"`
	ReferenceImageURL string            `json:"referenceImageUrl" validate:"omitempty,url"`
	Variations        []ManualVariation `json:"variations" validate:"required,min=1,max=50,dive"`
	Settings          models.Settings   `json:"settings"`
	Tags              []string          `json:"tags" validate:"max=30"`
	IsPublic          bool              `json:"isPublic"`
	CreatedBy         string            `json:"createdBy" validate:"required,max=200"`
}

// CreateTemplateResult reports a finished template batch.
type CreateTemplateResult struct {
	Template     *models.Template     `json:"template"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Errors       []generation.Failure `json:"errors"`
}

// UseTemplateInput personalises a template with an end-user image.
// SelectedVariations holds variation indices; nil selects all.
type UseTemplateInput struct {
	UserImage          imaging.Source `json:"userImage"`
	SelectedVariations []int          `json:"selectedVariations,omitempty"`
}

// UsageImage is one personalised image next to the template image it
// was derived from.
type UsageImage struct {
	VariationIndex        int    `json:"variationIndex"`
	Prompt                string `json:"prompt"`
	ImageURL              string `json:"imageUrl"`
	OriginalTemplateImage string `json:"originalTemplateImage"`
}

// UseTemplateResult is returned by Use. Nothing in it is persisted.
type UseTemplateResult struct {
	TemplateID uuid.UUID            `json:"templateId"`
	UsageCount int                  `json:"usageCount"`
	Results    []UsageImage         `json:"results"`
	Errors     []generation.Failure `json:"errors"`
}

// Templates manages finalized templates and their personalisation.
type Templates struct {
	repo      TemplateRepository
	runner    BatchRunner
	resolver  ImageResolver
	artifacts ArtifactStore
	cache     ListCache
	opts      Options
}

// NewTemplates creates the template service.
func NewTemplates(repo TemplateRepository, runner BatchRunner, resolver ImageResolver, artifacts ArtifactStore, cache ListCache, opts Options) *Templates {
	return &Templates{
		repo:      repo,
		runner:    runner,
		resolver:  resolver,
		artifacts: artifacts,
		cache:     cache,
		opts:      opts,
	}
}

// Create persists a processing template, runs the batch against its single
// reference image and flips it to completed or failed.
func (s *Templates) Create(ctx context.Context, in CreateTemplateInput) (*CreateTemplateResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Prompts = trimAll(in.Prompts)
	in.Category = models.Category(strings.ToLower(strings.TrimSpace(string(in.Category))))
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.ReferenceImage.IsZero() {
		return nil, invalidRequest("referenceImage is required")
	}

	refs, err := resolveReferences(ctx, s.resolver, []imaging.Source{in.ReferenceImage})
	if err != nil {
		return nil, err
	}

	genCtx, cancel := detach(ctx, s.opts.generationTimeout())
	defer cancel()

	refURLs, err := uploadReferences(genCtx, s.artifacts, refs, storage.NamespaceTemplates)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.repo.Create(genCtx, &models.Template{
		Name:              in.Name,
		Description:       in.Description,
		Category:          defaultCategory(in.Category),
		ReferenceImageURL: refURLs[0],
		Variations:        []models.Variation{},
		Settings: models.Settings{
			AspectRatio: strings.TrimSpace(in.AspectRatio),
			ImageSize:   strings.TrimSpace(in.ImageSize),
			Style:       strings.TrimSpace(in.Style),
		},
		IsPublic:  in.IsPublic,
		CreatedBy: in.CreatedBy,
		Tags:      slug.NormalizeTags(in.Tags),
		Status:    models.TemplateStatusProcessing,
	})
	if err != nil {
		deleteArtifacts(genCtx, s.artifacts, refURLs)
		return nil, fmt.Errorf("create template: %w", err)
	}

	slog.Info("template generation started", "template_id", tmpl.ID, "prompts", len(in.Prompts))

	res := s.runner.Run(genCtx, generation.Batch{
		Prompts:    in.Prompts,
		References: refs,
		Settings:   tmpl.Settings,
		Namespace:  storage.NamespaceTemplates,
	})

	variations := make([]models.Variation, len(res.Successes))
	for i, succ := range res.Successes {
		variations[i] = models.Variation{
			Prompt:            succ.Prompt,
			GeneratedImageURL: succ.ImageURL,
			Order:             i,
		}
	}
	status := models.TemplateStatusCompleted
	if len(variations) == 0 {
		status = models.TemplateStatusFailed
	}
	errMsg := failureSummary(res)

	if err := s.repo.FinishGeneration(genCtx, tmpl.ID, variations, status, errMsg); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			deleteArtifacts(genCtx, s.artifacts, successURLs(res))
			return nil, fmt.Errorf("%w: template %s was removed during generation", ErrInvalidState, tmpl.ID)
		}
		return nil, fmt.Errorf("finish template generation: %w", err)
	}

	tmpl.Variations = variations
	tmpl.Status = status
	tmpl.ErrorMessage = errMsg
	s.cache.InvalidateAll(genCtx)

	slog.Info("template generation finished",
		"template_id", tmpl.ID, "status", status,
		"successes", len(res.Successes), "failures", len(res.Failures))

	failures := res.Failures
	if failures == nil {
		failures = []generation.Failure{}
	}
	return &CreateTemplateResult{
		Template:     tmpl,
		SuccessCount: len(res.Successes),
		FailureCount: len(res.Failures),
		Errors:       failures,
	}, nil
}

// CreateFromURLs stores a template whose images already exist. It is
// completed immediately. Without an explicit reference image the first
// variation's image is used as the thumbnail.
func (s *Templates) CreateFromURLs(ctx context.Context, in CreateFromURLsInput) (*models.Template, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Category = models.Category(strings.ToLower(strings.TrimSpace(string(in.Category))))
	for i := range in.Variations {
		in.Variations[i].Prompt = strings.TrimSpace(in.Variations[i].Prompt)
		in.Variations[i].ImageURL = strings.TrimSpace(in.Variations[i].ImageURL)
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	variations := make([]models.Variation, len(in.Variations))
	for i, v := range in.Variations {
		variations[i] = models.Variation{Prompt: v.Prompt, GeneratedImageURL: v.ImageURL, Order: i}
	}
	ref := in.ReferenceImageURL
	if ref == "" {
		ref = variations[0].GeneratedImageURL
	}

	tmpl, err := s.repo.Create(ctx, &models.Template{
		Name:              in.Name,
		Description:       in.Description,
		Category:          defaultCategory(in.Category),
		ReferenceImageURL: ref,
		Variations:        variations,
		Settings:          in.Settings,
		IsPublic:          in.IsPublic,
		CreatedBy:         in.CreatedBy,
		Tags:              slug.NormalizeTags(in.Tags),
		Status:            models.TemplateStatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.cache.InvalidateAll(ctx)
	slog.Info("template created from urls", "template_id", tmpl.ID, "variations", len(variations))
	return tmpl, nil
}

// Use replays the selected variation prompts against a new end-user image.
// The usage counter is incremented once the request is valid, before any
// generation, so attempts are counted rather than successes.
func (s *Templates) Use(ctx context.Context, id uuid.UUID, in UseTemplateInput) (*UseTemplateResult, error) {
	tmpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	if tmpl.Status != models.TemplateStatusCompleted {
		return nil, fmt.Errorf("%w: template is %s, not completed", ErrInvalidState, tmpl.Status)
	}
	if in.UserImage.IsZero() {
		return nil, invalidRequest("userImage is required")
	}

	picked := selectIndices(in.SelectedVariations, len(tmpl.Variations))
	if len(picked) == 0 {
		return nil, invalidRequest("no variations selected")
	}

	refs, err := resolveReferences(ctx, s.resolver, []imaging.Source{in.UserImage})
	if err != nil {
		return nil, err
	}

	genCtx, cancel := detach(ctx, s.opts.generationTimeout())
	defer cancel()

	count, err := s.repo.IncrementUsage(genCtx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	metrics.RecordTemplateUse()

	prompts := make([]string, len(picked))
	for i, idx := range picked {
		prompts[i] = tmpl.Variations[idx].Prompt
	}

	res := s.runner.Run(genCtx, generation.Batch{
		Prompts:    prompts,
		References: refs,
		Settings:   tmpl.Settings,
		Namespace:  storage.NamespaceUsage,
	})

	out := &UseTemplateResult{
		TemplateID: id,
		UsageCount: count,
		Results:    make([]UsageImage, 0, len(res.Successes)),
		Errors:     make([]generation.Failure, 0, len(res.Failures)),
	}
	for _, succ := range res.Successes {
		v := tmpl.Variations[picked[succ.Order]]
		out.Results = append(out.Results, UsageImage{
			VariationIndex:        picked[succ.Order],
			Prompt:                succ.Prompt,
			ImageURL:              succ.ImageURL,
			OriginalTemplateImage: v.GeneratedImageURL,
		})
	}
	for _, f := range res.Failures {
		f.PromptIndex = picked[f.PromptIndex]
		out.Errors = append(out.Errors, f)
	}

	slog.Info("template used", "template_id", id, "usage_count", count,
		"successes", len(res.Successes), "failures", len(res.Failures))
	return out, nil
}

// Get returns a single template.
func (s *Templates) Get(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find template: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	return t, nil
}

// ListPublic returns completed public templates, optionally filtered by
// category. Listings are served from the cache when possible.
func (s *Templates) ListPublic(ctx context.Context, category models.Category) ([]models.Template, error) {
	category = models.Category(strings.ToLower(strings.TrimSpace(string(category))))
	if category != "" && !category.Valid() {
		return nil, invalidRequest("unknown category %q", category)
	}

	if list, ok := s.cache.Get(ctx, category); ok {
		return list, nil
	}

	list, err := s.repo.ListPublic(ctx, store.TemplateFilter{Category: category, Limit: publicListLimit})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if list == nil {
		list = []models.Template{}
	}
	s.cache.Set(ctx, category, list)
	return list, nil
}

// UpdateMetadata edits name, description, category, tags and visibility.
// Variations and images are never touched.
func (s *Templates) UpdateMetadata(ctx context.Context, id uuid.UUID, m models.TemplateMetadata) (*models.Template, error) {
	if m.Name != nil {
		name := strings.TrimSpace(*m.Name)
		if name == "" {
			return nil, invalidRequest("name cannot be empty")
		}
		m.Name = &name
	}
	if m.Description != nil {
		desc := strings.TrimSpace(*m.Description)
		m.Description = &desc
	}
	if m.Category != nil {
		c := models.Category(strings.ToLower(strings.TrimSpace(string(*m.Category))))
		if !c.Valid() {
			return nil, invalidRequest("unknown category %q", c)
		}
		m.Category = &c
	}
	if m.Tags != nil {
		m.Tags = slug.NormalizeTags(m.Tags)
	}

	t, err := s.repo.UpdateMetadata(ctx, id, m)
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	s.cache.InvalidateAll(ctx)
	return t, nil
}

// Delete removes a template. Its images stay in storage: variations of an
// approved draft share their objects with the draft's previews.
func (s *Templates) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if t == nil {
		return fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	s.cache.InvalidateAll(ctx)
	slog.Info("template deleted", "template_id", id)
	return nil
}
