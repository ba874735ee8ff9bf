// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postforge/internal/generation"
	"postforge/internal/models"
	"postforge/internal/service"
)

type fakeDrafts struct {
	createIn    service.CreateDraftInput
	approveID   uuid.UUID
	approveSel  []int
	listFilter  service.DraftListFilter
	rejectedID  uuid.UUID
	err         error
	draft       *models.Draft
	approveResp *service.ApproveResult
}

func (f *fakeDrafts) Create(_ context.Context, in service.CreateDraftInput) (*service.CreateDraftResult, error) {
	f.createIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.CreateDraftResult{
		Draft:        f.draft,
		SuccessCount: 1,
		FailureCount: 1,
		Errors:       []generation.Failure{{PromptIndex: 1, Prompt: "b", ErrorMessage: "generate: boom"}},
	}, nil
}

func (f *fakeDrafts) Approve(_ context.Context, id uuid.UUID, selected []int) (*service.ApproveResult, error) {
	f.approveID = id
	f.approveSel = selected
	return f.approveResp, f.err
}

func (f *fakeDrafts) Reject(_ context.Context, id uuid.UUID) error {
	f.rejectedID = id
	return f.err
}

func (f *fakeDrafts) Get(_ context.Context, _ uuid.UUID) (*models.Draft, error) {
	return f.draft, f.err
}

func (f *fakeDrafts) List(_ context.Context, filter service.DraftListFilter) ([]models.Draft, error) {
	f.listFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []models.Draft{*f.draft}, nil
}

type fakeTemplates struct {
	useIn      service.UseTemplateInput
	category   models.Category
	meta       models.TemplateMetadata
	deletedID  uuid.UUID
	template   *models.Template
	useResp    *service.UseTemplateResult
	err        error
	createdIn  service.CreateTemplateInput
	fromURLsIn service.CreateFromURLsInput
}

func (f *fakeTemplates) Create(_ context.Context, in service.CreateTemplateInput) (*service.CreateTemplateResult, error) {
	f.createdIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.CreateTemplateResult{Template: f.template, SuccessCount: 2, Errors: []generation.Failure{}}, nil
}

func (f *fakeTemplates) CreateFromURLs(_ context.Context, in service.CreateFromURLsInput) (*models.Template, error) {
	f.fromURLsIn = in
	return f.template, f.err
}

func (f *fakeTemplates) Use(_ context.Context, _ uuid.UUID, in service.UseTemplateInput) (*service.UseTemplateResult, error) {
	f.useIn = in
	return f.useResp, f.err
}

func (f *fakeTemplates) Get(_ context.Context, _ uuid.UUID) (*models.Template, error) {
	return f.template, f.err
}

func (f *fakeTemplates) ListPublic(_ context.Context, c models.Category) ([]models.Template, error) {
	f.category = c
	if f.err != nil {
		return nil, f.err
	}
	return []models.Template{*f.template}, nil
}

func (f *fakeTemplates) UpdateMetadata(_ context.Context, _ uuid.UUID, m models.TemplateMetadata) (*models.Template, error) {
	f.meta = m
	return f.template, f.err
}

func (f *fakeTemplates) Delete(_ context.Context, id uuid.UUID) error {
	f.deletedID = id
	return f.err
}

// newTestRouter mounts the handlers the same way the application router does.
func newTestRouter(d DraftService, t TemplateService) http.Handler {
	dh := NewDrafts(d)
	th := NewTemplates(t)

	r := chi.NewRouter()
	r.Get("/health", Health(nil))
	r.Route("/api/drafts", func(r chi.Router) {
		r.Get("/", dh.List)
		r.Post("/", dh.Create)
		r.Get("/{id}", dh.Get)
		r.Post("/{id}/approve", dh.Approve)
		r.Post("/{id}/reject", dh.Reject)
	})
	r.Route("/api/templates", func(r chi.Router) {
		r.Get("/", th.List)
		r.Post("/", th.Create)
		r.Post("/manual", th.CreateManual)
		r.Get("/{id}", th.Get)
		r.Patch("/{id}", th.Update)
		r.Delete("/{id}", th.Delete)
		r.Post("/{id}/use", th.Use)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateDraftResponse(t *testing.T) {
	id := uuid.New()
	fd := &fakeDrafts{draft: &models.Draft{ID: id, Name: "Spring", Status: models.DraftStatusReadyForReview}}
	h := newTestRouter(fd, &fakeTemplates{})

	rec, out := do(t, h, http.MethodPost, "/api/drafts", `{
		"name": "Spring",
		"prompts": ["a", "b"],
		"referenceImage": "https://example.com/ref.png",
		"createdBy": "admin-1"
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, id.String(), out["draftId"])
	assert.EqualValues(t, 1, out["successCount"])
	assert.EqualValues(t, 1, out["failureCount"])
	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	assert.EqualValues(t, 1, errs[0].(map[string]any)["promptIndex"])

	assert.Equal(t, []string{"a", "b"}, fd.createIn.Prompts)
	require.NotNil(t, fd.createIn.ReferenceImage)
	assert.Equal(t, "https://example.com/ref.png", fd.createIn.ReferenceImage.URL)
}

func TestCreateDraftBadJSON(t *testing.T) {
	h := newTestRouter(&fakeDrafts{}, &fakeTemplates{})
	rec, out := do(t, h, http.MethodPost, "/api/drafts", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "invalid JSON body")
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", fmt.Errorf("%w: prompts are required", service.ErrInvalidRequest), http.StatusBadRequest},
		{"invalid state", fmt.Errorf("%w: draft is approved", service.ErrInvalidState), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: draft", service.ErrNotFound), http.StatusNotFound},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeDrafts{err: tt.err}, &fakeTemplates{})
			rec, out := do(t, h, http.MethodPost, "/api/drafts/"+uuid.NewString()+"/reject", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.err.Error(), out["error"])
		})
	}
}

func TestInvalidID(t *testing.T) {
	h := newTestRouter(&fakeDrafts{}, &fakeTemplates{})
	for _, path := range []string{"/api/drafts/nope/approve", "/api/drafts/nope/reject", "/api/templates/nope/use"} {
		rec, out := do(t, h, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "invalid id", out["error"], path)
	}
}

func TestApproveDraft(t *testing.T) {
	draftID, tmplID := uuid.New(), uuid.New()
	fd := &fakeDrafts{approveResp: &service.ApproveResult{
		TemplateID: tmplID,
		Template:   &models.Template{ID: tmplID, Status: models.TemplateStatusCompleted},
	}}
	h := newTestRouter(fd, &fakeTemplates{})

	rec, out := do(t, h, http.MethodPost, "/api/drafts/"+draftID.String()+"/approve", `{"selectedImages":[0,2]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tmplID.String(), out["templateId"])
	assert.Equal(t, draftID, fd.approveID)
	assert.Equal(t, []int{0, 2}, fd.approveSel)
}

func TestApproveDraftEmptyBodySelectsAll(t *testing.T) {
	fd := &fakeDrafts{approveResp: &service.ApproveResult{}}
	h := newTestRouter(fd, &fakeTemplates{})

	rec, _ := do(t, h, http.MethodPost, "/api/drafts/"+uuid.NewString()+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, fd.approveSel)
}

func TestRejectDraft(t *testing.T) {
	fd := &fakeDrafts{}
	h := newTestRouter(fd, &fakeTemplates{})
	id := uuid.New()

	rec, out := do(t, h, http.MethodPost, "/api/drafts/"+id.String()+"/reject", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, id, fd.rejectedID)
}

func TestListDraftsQuery(t *testing.T) {
	fd := &fakeDrafts{draft: &models.Draft{ID: uuid.New()}}
	h := newTestRouter(fd, &fakeTemplates{})

	rec, out := do(t, h, http.MethodGet, "/api/drafts/?createdBy=admin-1&status=ready_for_review&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["drafts"], 1)
	assert.Equal(t, service.DraftListFilter{
		CreatedBy: "admin-1",
		Status:    models.DraftStatusReadyForReview,
		Limit:     5,
		Offset:    10,
	}, fd.listFilter)
}

func TestCreateTemplate(t *testing.T) {
	ft := &fakeTemplates{template: &models.Template{ID: uuid.New(), Name: "Autumn"}}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodPost, "/api/templates", `{
		"name": "Autumn",
		"prompts": ["leaves"],
		"referenceImage": {"data": "aGVsbG8=", "mimeType": "image/png"},
		"createdBy": "admin-1"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 2, out["successCount"])
	assert.NotNil(t, out["template"])
	assert.Equal(t, "aGVsbG8=", ft.createdIn.ReferenceImage.Data)
}

func TestCreateManualTemplate(t *testing.T) {
	ft := &fakeTemplates{template: &models.Template{ID: uuid.New()}}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodPost, "/api/templates/manual", `{
		"name": "Imported",
		"variations": [{"prompt": "p", "imageUrl": "https://cdn.example.com/a.png"}],
		"createdBy": "admin-1"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotNil(t, out["template"])
	require.Len(t, ft.fromURLsIn.Variations, 1)
	assert.Equal(t, "https://cdn.example.com/a.png", ft.fromURLsIn.Variations[0].ImageURL)
}

func TestUseTemplate(t *testing.T) {
	id := uuid.New()
	ft := &fakeTemplates{useResp: &service.UseTemplateResult{
		TemplateID: id,
		UsageCount: 6,
		Results: []service.UsageImage{{
			VariationIndex:        1,
			Prompt:                "p1",
			ImageURL:              "https://cdn.example.com/u.png",
			OriginalTemplateImage: "https://cdn.example.com/v1.png",
		}},
		Errors: []generation.Failure{},
	}}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodPost, "/api/templates/"+id.String()+"/use",
		`{"userImage":"https://example.com/me.jpg","selectedVariations":[1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 6, out["usageCount"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "https://cdn.example.com/v1.png", results[0].(map[string]any)["originalTemplateImage"])
	assert.Equal(t, "https://example.com/me.jpg", ft.useIn.UserImage.URL)
	assert.Equal(t, []int{1}, ft.useIn.SelectedVariations)
}

func TestUseTemplateNotCompleted(t *testing.T) {
	ft := &fakeTemplates{err: fmt.Errorf("%w: template is processing", service.ErrInvalidState)}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodPost, "/api/templates/"+uuid.NewString()+"/use", `{"userImage":"https://example.com/me.jpg"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "processing")
}

func TestListTemplatesCategory(t *testing.T) {
	ft := &fakeTemplates{template: &models.Template{ID: uuid.New()}}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodGet, "/api/templates/?category=fashion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["templates"], 1)
	assert.Equal(t, models.Category("fashion"), ft.category)
}

func TestUpdateAndDeleteTemplate(t *testing.T) {
	id := uuid.New()
	ft := &fakeTemplates{template: &models.Template{ID: id, Name: "Renamed"}}
	h := newTestRouter(&fakeDrafts{}, ft)

	rec, out := do(t, h, http.MethodPatch, "/api/templates/"+id.String(), `{"name":"Renamed","isPublic":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", out["name"])
	require.NotNil(t, ft.meta.Name)
	assert.Equal(t, "Renamed", *ft.meta.Name)
	require.NotNil(t, ft.meta.IsPublic)
	assert.False(t, *ft.meta.IsPublic)

	rec, out = do(t, h, http.MethodDelete, "/api/templates/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, id, ft.deletedID)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	rec, out := do(t, Health(fakePinger{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = do(t, Health(fakePinger{err: errors.New("dial tcp: refused")}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", out["status"])
}
