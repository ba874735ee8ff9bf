// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package service

import (
	"context"
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

// CreateDraftInput is the payload of a draft submission. ReferenceImage
// and ReferenceImages may both be set; the single image comes first.
type CreateDraftInput struct {
	Name            string           `json:"name" validate:"required,max=200"`
	Description     string           `json:"description" validate:"max=2000"`
	Category        models.Category  `json:"category" validate:"category"`
	Prompts         []string         `json:"prompts" validate:"required,min=1,max=50,dive,required,max=4000"`
	ReferenceImage  *imaging.Source  `json:"referenceImage,omitempty"`
	ReferenceImages []imaging.Source `json:"referenceImages,omitempty" validate:"max=10"`
	AspectRatio     string           `json:"aspectRatio" validate:"max=20"`
	ImageSize       string           `json:"imageSize" validate:"max=20"`
	Style           string           `json:"style" validate:"max=100"`
	Tags            []string         `json:"tags" validate:"max=30"`
	IsPublic        bool             `json:"isPublic"`
	CreatedBy       string           `json:"createdBy" validate:"required,max=200"`
}

func (in *CreateDraftInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Prompts = trimAll(in.Prompts)
	in.Category = models.Category(strings.ToLower(strings.TrimSpace(string(in.Category))))
}

func (in *CreateDraftInput) sources() []imaging.Source {
	var srcs []imaging.Source
	if in.ReferenceImage != nil && !in.ReferenceImage.IsZero() {
		srcs = append(srcs, *in.ReferenceImage)
	}
	for _, s := range in.ReferenceImages {
		if !s.IsZero() {
			srcs = append(srcs, s)
		}
	}
	return srcs
}

// CreateDraftResult reports a finished draft batch.
type CreateDraftResult struct {
	Draft        *models.Draft        `json:"draft"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Errors       []generation.Failure `json:"errors"`
}

// ApproveResult is the template materialised from an approved draft.
type ApproveResult struct {
	TemplateID uuid.UUID        `json:"templateId"`
	Template   *models.Template `json:"template"`
}

// DraftListFilter narrows List.
type DraftListFilter struct {
	CreatedBy string
	Status    models.DraftStatus
	Limit     int
	Offset    int
}

// Drafts runs the draft review workflow: generate previews, then approve
// a subset into a template or reject the whole draft.
type Drafts struct {
	repo      DraftRepository
	runner    BatchRunner
	resolver  ImageResolver
	artifacts ArtifactStore
	cache     ListCache
	opts      Options
}

// NewDrafts creates the draft workflow service.
func NewDrafts(repo DraftRepository, runner BatchRunner, resolver ImageResolver, artifacts ArtifactStore, cache ListCache, opts Options) *Drafts {
	return &Drafts{
		repo:      repo,
		runner:    runner,
		resolver:  resolver,
		artifacts: artifacts,
		cache:     cache,
		opts:      opts,
	}
}

// Create validates the submission, stores its references, persists the
// draft in generating status and then runs the batch. The draft row exists
// before the first image is requested, so a crash mid-batch leaves it
// findable. Generation continues if the caller disconnects.
func (s *Drafts) Create(ctx context.Context, in CreateDraftInput) (*CreateDraftResult, error) {
	in.normalize()
	if err := validateInput(in); err != nil {
		return nil, err
	}

	refs, err := resolveReferences(ctx, s.resolver, in.sources())
	if err != nil {
		return nil, err
	}

	genCtx, cancel := detach(ctx, s.opts.generationTimeout())
	defer cancel()

	refURLs, err := uploadReferences(genCtx, s.artifacts, refs, storage.NamespaceDrafts)
	if err != nil {
		return nil, err
	}

	draft, err := s.repo.Create(genCtx, &models.Draft{
		Name:               in.Name,
		Description:        in.Description,
		Category:           defaultCategory(in.Category),
		Prompts:            in.Prompts,
		ReferenceImageURLs: refURLs,
		PreviewImages:      []models.PreviewImage{},
		Settings: models.Settings{
			AspectRatio: strings.TrimSpace(in.AspectRatio),
			ImageSize:   strings.TrimSpace(in.ImageSize),
			Style:       strings.TrimSpace(in.Style),
		},
		Status:    models.DraftStatusGenerating,
		CreatedBy: in.CreatedBy,
		Tags:      slug.NormalizeTags(in.Tags),
		IsPublic:  in.IsPublic,
	})
	if err != nil {
		deleteArtifacts(genCtx, s.artifacts, refURLs)
		return nil, fmt.Errorf("create draft: %w", err)
	}

	slog.Info("draft generation started", "draft_id", draft.ID, "prompts", len(draft.Prompts), "references", len(refs))

	res := s.runner.Run(genCtx, generation.Batch{
		Prompts:    draft.Prompts,
		References: refs,
		Settings:   draft.Settings,
		Namespace:  storage.NamespaceDrafts,
	})

	previews := make([]models.PreviewImage, len(res.Successes))
	for i, succ := range res.Successes {
		previews[i] = models.PreviewImage{
			Prompt:   succ.Prompt,
			ImageURL: succ.ImageURL,
			Order:    succ.Order,
		}
	}
	status := models.DraftStatusReadyForReview
	if len(previews) == 0 {
		status = models.DraftStatusRejected
	}
	errMsg := failureSummary(res)

	if err := s.repo.FinishGeneration(genCtx, draft.ID, previews, status, errMsg); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// Rejected while generating: the previews have no owner.
			deleteArtifacts(genCtx, s.artifacts, successURLs(res))
			return nil, fmt.Errorf("%w: draft %s was removed during generation", ErrInvalidState, draft.ID)
		}
		return nil, fmt.Errorf("finish draft generation: %w", err)
	}

	draft.PreviewImages = previews
	draft.Status = status
	draft.ErrorMessage = errMsg

	slog.Info("draft generation finished",
		"draft_id", draft.ID, "status", status,
		"successes", len(res.Successes), "failures", len(res.Failures))

	failures := res.Failures
	if failures == nil {
		failures = []generation.Failure{}
	}
	return &CreateDraftResult{
		Draft:        draft,
		SuccessCount: len(res.Successes),
		FailureCount: len(res.Failures),
		Errors:       failures,
	}, nil
}

// Approve copies the selected previews into a new completed template and
// closes the draft. selected holds preview indices; nil selects all.
// Indices outside the preview list are ignored. The draft keeps all of
// its previews, with the selected ones marked approved.
func (s *Drafts) Approve(ctx context.Context, id uuid.UUID, selected []int) (*ApproveResult, error) {
	draft, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	if draft == nil {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}
	if draft.Status != models.DraftStatusReadyForReview {
		return nil, fmt.Errorf("%w: draft is %s, not ready_for_review", ErrInvalidState, draft.Status)
	}

	picked := selectIndices(selected, len(draft.PreviewImages))
	if len(picked) == 0 {
		return nil, invalidRequest("no preview images selected")
	}

	previews := make([]models.PreviewImage, len(draft.PreviewImages))
	copy(previews, draft.PreviewImages)
	variations := make([]models.Variation, 0, len(picked))
	for order, idx := range picked {
		previews[idx].IsApproved = true
		variations = append(variations, models.Variation{
			Prompt:            previews[idx].Prompt,
			GeneratedImageURL: previews[idx].ImageURL,
			Order:             order,
		})
	}

	tmpl, err := s.repo.Approve(ctx, draft.ID, &models.Template{
		Name:              draft.Name,
		Description:       draft.Description,
		Category:          draft.Category,
		ReferenceImageURL: variations[0].GeneratedImageURL,
		Variations:        variations,
		Settings:          draft.Settings,
		IsPublic:          draft.IsPublic,
		CreatedBy:         draft.CreatedBy,
		Tags:              draft.Tags,
		Status:            models.TemplateStatusCompleted,
	}, previews)
	switch {
	case errors.Is(err, store.ErrStateConflict):
		return nil, fmt.Errorf("%w: draft %s was already reviewed", ErrInvalidState, id)
	case err != nil:
		return nil, fmt.Errorf("approve draft: %w", err)
	case tmpl == nil:
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}

	s.cache.InvalidateAll(ctx)
	metrics.RecordReview("approve")
	slog.Info("draft approved", "draft_id", id, "template_id", tmpl.ID, "variations", len(variations))

	return &ApproveResult{TemplateID: tmpl.ID, Template: tmpl}, nil
}

// Reject deletes a draft that has not been approved, together with its
// stored references and previews. Approved drafts back a live template
// and cannot be rejected.
func (s *Drafts) Reject(ctx context.Context, id uuid.UUID) error {
	draft, err := s.repo.Delete(ctx, id)
	switch {
	case errors.Is(err, store.ErrStateConflict):
		return fmt.Errorf("%w: draft %s is approved", ErrInvalidState, id)
	case err != nil:
		return fmt.Errorf("reject draft: %w", err)
	case draft == nil:
		return fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}

	cleanupCtx, cancel := detach(ctx, s.opts.generationTimeout())
	defer cancel()

	urls := append([]string{}, draft.ReferenceImageURLs...)
	for _, p := range draft.PreviewImages {
		urls = append(urls, p.ImageURL)
	}
	deleteArtifacts(cleanupCtx, s.artifacts, urls)

	metrics.RecordReview("reject")
	slog.Info("draft rejected", "draft_id", id, "artifacts", len(urls))
	return nil
}

// Get returns a single draft.
func (s *Drafts) Get(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	d, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}
	return d, nil
}

// List returns drafts, newest first.
func (s *Drafts) List(ctx context.Context, f DraftListFilter) ([]models.Draft, error) {
	switch f.Status {
	case "", models.DraftStatusPending, models.DraftStatusGenerating,
		models.DraftStatusReadyForReview, models.DraftStatusApproved, models.DraftStatusRejected:
	default:
		return nil, invalidRequest("unknown draft status %q", f.Status)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = 50
	case f.Limit > 100:
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	drafts, err := s.repo.List(ctx, store.DraftFilter{
		CreatedBy: strings.TrimSpace(f.CreatedBy),
		Status:    f.Status,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	if drafts == nil {
		drafts = []models.Draft{}
	}
	return drafts, nil
}
