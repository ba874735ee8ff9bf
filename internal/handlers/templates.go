// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"postforge/internal/models"
	"postforge/internal/service"
)

// TemplateService is the template workflow used by the handlers.
type TemplateService interface {
	Create(ctx context.Context, in service.CreateTemplateInput) (*service.CreateTemplateResult, error)
	CreateFromURLs(ctx context.Context, in service.CreateFromURLsInput) (*models.Template, error)
	Use(ctx context.Context, id uuid.UUID, in service.UseTemplateInput) (*service.UseTemplateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Template, error)
	ListPublic(ctx context.Context, category models.Category) ([]models.Template, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, m models.TemplateMetadata) (*models.Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Templates groups the template endpoints.
type Templates struct {
	svc TemplateService
}

// NewTemplates creates the template handlers.
func NewTemplates(svc TemplateService) *Templates {
	return &Templates{svc: svc}
}

// Create handles POST /api/templates.
func (h *Templates) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTemplateInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// CreateManual handles POST /api/templates/manual.
func (h *Templates) CreateManual(w http.ResponseWriter, r *http.Request) {
	var in service.CreateFromURLsInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.svc.CreateFromURLs(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template": t})
}

// List handles GET /api/templates?category=.
func (h *Templates) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPublic(r.Context(), models.Category(r.URL.Query().Get("category")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

// Get handles GET /api/templates/{id}.
func (h *Templates) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Update handles PATCH /api/templates/{id}. Only metadata can change.
func (h *Templates) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var m models.TemplateMetadata
	if err := decodeJSON(w, r, &m, false); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.svc.UpdateMetadata(r.Context(), id, m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Delete handles DELETE /api/templates/{id}.
func (h *Templates) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Use handles POST /api/templates/{id}/use.
func (h *Templates) Use(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var in service.UseTemplateInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.svc.Use(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
