// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"postforge/internal/ai"
	"postforge/internal/generation"
	"postforge/internal/imaging"
	"postforge/internal/models"
	"postforge/internal/store"
)

// memDrafts is an in-memory DraftRepository. A single mutex stands in for
// the row lock taken by the real approval transaction.
type memDrafts struct {
	mu        sync.Mutex
	drafts    map[uuid.UUID]*models.Draft
	templates *memTemplates
	// onCreate runs after a draft is stored, before generation.
	onCreate func(id uuid.UUID)
}

func newMemDrafts(templates *memTemplates) *memDrafts {
	return &memDrafts{drafts: map[uuid.UUID]*models.Draft{}, templates: templates}
}

func cloneDraft(d *models.Draft) *models.Draft {
	c := *d
	c.Prompts = append([]string(nil), d.Prompts...)
	c.PreviewImages = append([]models.PreviewImage(nil), d.PreviewImages...)
	c.ReferenceImageURLs = append([]string(nil), d.ReferenceImageURLs...)
	c.Tags = append([]string(nil), d.Tags...)
	return &c
}

func (m *memDrafts) Create(_ context.Context, d *models.Draft) (*models.Draft, error) {
	m.mu.Lock()
	c := cloneDraft(d)
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.drafts[c.ID] = c
	m.mu.Unlock()
	if m.onCreate != nil {
		m.onCreate(c.ID)
	}
	return cloneDraft(c), nil
}

func (m *memDrafts) put(d *models.Draft) *models.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.drafts[d.ID] = cloneDraft(d)
	return d
}

func (m *memDrafts) get(id uuid.UUID) *models.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil
	}
	return cloneDraft(d)
}

func (m *memDrafts) FindByID(_ context.Context, id uuid.UUID) (*models.Draft, error) {
	return m.get(id), nil
}

func (m *memDrafts) List(_ context.Context, f store.DraftFilter) ([]models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Draft
	for _, d := range m.drafts {
		if f.CreatedBy != "" && d.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, *cloneDraft(d))
	}
	return out, nil
}

func (m *memDrafts) FinishGeneration(_ context.Context, id uuid.UUID, previews []models.PreviewImage, status models.DraftStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok || d.Status != models.DraftStatusGenerating {
		return store.ErrStateConflict
	}
	d.PreviewImages = append([]models.PreviewImage(nil), previews...)
	d.Status = status
	d.ErrorMessage = errMsg
	return nil
}

func (m *memDrafts) Approve(ctx context.Context, id uuid.UUID, tmpl *models.Template, previews []models.PreviewImage) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	if d.Status != models.DraftStatusReadyForReview {
		return nil, store.ErrStateConflict
	}
	created, err := m.templates.Create(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	d.Status = models.DraftStatusApproved
	d.ApprovedTemplateID = &created.ID
	d.PreviewImages = append([]models.PreviewImage(nil), previews...)
	return created, nil
}

func (m *memDrafts) Delete(_ context.Context, id uuid.UUID) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	if d.Status == models.DraftStatusApproved {
		return nil, store.ErrStateConflict
	}
	delete(m.drafts, id)
	return d, nil
}

type memTemplates struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*models.Template
	listCalls int
}

func newMemTemplates() *memTemplates {
	return &memTemplates{templates: map[uuid.UUID]*models.Template{}}
}

func cloneTemplate(t *models.Template) *models.Template {
	c := *t
	c.Variations = append([]models.Variation(nil), t.Variations...)
	c.Tags = append([]string(nil), t.Tags...)
	return &c
}

func (m *memTemplates) Create(_ context.Context, t *models.Template) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneTemplate(t)
	c.ID = uuid.New()
	c.UsageCount = 0
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.templates[c.ID] = c
	return cloneTemplate(c), nil
}

func (m *memTemplates) put(t *models.Template) *models.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.templates[t.ID] = cloneTemplate(t)
	return t
}

func (m *memTemplates) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.templates)
}

func (m *memTemplates) get(id uuid.UUID) *models.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil
	}
	return cloneTemplate(t)
}

func (m *memTemplates) FindByID(_ context.Context, id uuid.UUID) (*models.Template, error) {
	return m.get(id), nil
}

func (m *memTemplates) ListPublic(_ context.Context, f store.TemplateFilter) ([]models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []models.Template
	for _, t := range m.templates {
		if !t.IsPublic || t.Status != models.TemplateStatusCompleted {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		out = append(out, *cloneTemplate(t))
	}
	return out, nil
}

func (m *memTemplates) FinishGeneration(_ context.Context, id uuid.UUID, variations []models.Variation, status models.TemplateStatus, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.Status != models.TemplateStatusProcessing {
		return store.ErrStateConflict
	}
	t.Variations = append([]models.Variation(nil), variations...)
	t.Status = status
	t.ErrorMessage = errMsg
	return nil
}

func (m *memTemplates) UpdateMetadata(_ context.Context, id uuid.UUID, md models.TemplateMetadata) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	if md.Name != nil {
		t.Name = *md.Name
	}
	if md.Description != nil {
		t.Description = *md.Description
	}
	if md.Category != nil {
		t.Category = *md.Category
	}
	if md.Tags != nil {
		t.Tags = md.Tags
	}
	if md.IsPublic != nil {
		t.IsPublic = *md.IsPublic
	}
	return cloneTemplate(t), nil
}

func (m *memTemplates) IncrementUsage(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return 0, fmt.Errorf("increment template usage: %w", sql.ErrNoRows)
	}
	t.UsageCount++
	return t.UsageCount, nil
}

func (m *memTemplates) Delete(_ context.Context, id uuid.UUID) (*models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	delete(m.templates, id)
	return t, nil
}

// countingArtifacts records every upload and delete.
type countingArtifacts struct {
	mu      sync.Mutex
	uploads []string // namespaces
	deleted []string
	fail    bool
}

func (a *countingArtifacts) UploadArtifact(_ context.Context, data []byte, mimeType, namespace string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", fmt.Errorf("bucket unavailable")
	}
	a.uploads = append(a.uploads, namespace)
	return fmt.Sprintf("https://cdn.test/%s/%d.png", namespace, len(a.uploads)), nil
}

func (a *countingArtifacts) DeleteByURL(_ context.Context, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, url)
	return nil
}

func (a *countingArtifacts) uploadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploads)
}

func (a *countingArtifacts) uploadsIn(namespace string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ns := range a.uploads {
		if ns == namespace {
			n++
		}
	}
	return n
}

// stubResolver decodes nothing: "bad" data is invalid, anything else becomes
// a PNG reference carrying the source data as bytes.
type stubResolver struct {
	calls int
}

func (r *stubResolver) ResolveAll(_ context.Context, srcs []imaging.Source) ([]models.ReferenceImage, error) {
	r.calls++
	out := make([]models.ReferenceImage, 0, len(srcs))
	for i, s := range srcs {
		if s.Data == "bad" {
			return nil, fmt.Errorf("reference %d: %w: decode", i, imaging.ErrInvalidImage)
		}
		out = append(out, models.ReferenceImage{Data: []byte(s.Data + s.URL), MimeType: "image/png"})
	}
	return out, nil
}

// scriptedGenerator fails every prompt containing "fail" and records the
// prompts and references it saw.
type scriptedGenerator struct {
	mu       sync.Mutex
	requests []ai.ImageRequest
	failAll  bool
}

func (g *scriptedGenerator) GenerateImage(_ context.Context, req ai.ImageRequest) (*ai.Image, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.failAll || strings.Contains(req.Prompt, "fail") {
		return nil, fmt.Errorf("%w: no image data in response", ai.ErrGenerationFailed)
	}
	return &ai.Image{Data: []byte(req.Prompt), MimeType: "image/png"}, nil
}

func (g *scriptedGenerator) prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.requests))
	for i, r := range g.requests {
		out[i] = r.Prompt
	}
	return out
}

type memCache struct {
	mu          sync.Mutex
	lists       map[models.Category][]models.Template
	invalidated int
}

func newMemCache() *memCache {
	return &memCache{lists: map[models.Category][]models.Template{}}
}

func (c *memCache) Get(_ context.Context, cat models.Category) ([]models.Template, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lists[cat]
	return l, ok
}

func (c *memCache) Set(_ context.Context, cat models.Category, list []models.Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[cat] = list
}

func (c *memCache) InvalidateAll(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists = map[models.Category][]models.Template{}
	c.invalidated++
}

// harness wires both services to in-memory collaborators and a real
// orchestrator without pacing.
type harness struct {
	drafts    *Drafts
	templates *Templates
	draftRepo *memDrafts
	tmplRepo  *memTemplates
	artifacts *countingArtifacts
	resolver  *stubResolver
	gen       *scriptedGenerator
	cache     *memCache
}

func newHarness() *harness {
	h := &harness{
		tmplRepo:  newMemTemplates(),
		artifacts: &countingArtifacts{},
		resolver:  &stubResolver{},
		gen:       &scriptedGenerator{},
		cache:     newMemCache(),
	}
	h.draftRepo = newMemDrafts(h.tmplRepo)
	runner := generation.New(h.gen, h.artifacts, generation.Options{Delay: -1})
	opts := Options{GenerationTimeout: time.Minute}
	h.drafts = NewDrafts(h.draftRepo, runner, h.resolver, h.artifacts, h.cache, opts)
	h.templates = NewTemplates(h.tmplRepo, runner, h.resolver, h.artifacts, h.cache, opts)
	return h
}
