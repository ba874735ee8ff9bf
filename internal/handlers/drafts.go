// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"postforge/internal/generation"
	"postforge/internal/models"
	"postforge/internal/service"
)

// DraftService is the draft workflow used by the handlers.
type DraftService interface {
	Create(ctx context.Context, in service.CreateDraftInput) (*service.CreateDraftResult, error)
	Approve(ctx context.Context, id uuid.UUID, selected []int) (*service.ApproveResult, error)
	Reject(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	List(ctx context.Context, f service.DraftListFilter) ([]models.Draft, error)
}

// Drafts groups the draft review endpoints.
type Drafts struct {
	svc DraftService
}

// NewDrafts creates the draft handlers.
func NewDrafts(svc DraftService) *Drafts {
	return &Drafts{svc: svc}
}

type createDraftResponse struct {
	DraftID      uuid.UUID            `json:"draftId"`
	Draft        *models.Draft        `json:"draft"`
	SuccessCount int                  `json:"successCount"`
	FailureCount int                  `json:"failureCount"`
	Errors       []generation.Failure `json:"errors"`
}

// Create handles POST /api/drafts. The response is written once the whole
// batch has finished.
func (h *Drafts) Create(w http.ResponseWriter, r *http.Request) {
	var in service.CreateDraftInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createDraftResponse{
		DraftID:      res.Draft.ID,
		Draft:        res.Draft,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
		Errors:       res.Errors,
	})
}

// List handles GET /api/drafts?createdBy=&status=&limit=&offset=.
func (h *Drafts) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := service.DraftListFilter{
		CreatedBy: q.Get("createdBy"),
		Status:    models.DraftStatus(q.Get("status")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	drafts, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

// Get handles GET /api/drafts/{id}.
func (h *Drafts) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type approveRequest struct {
	SelectedImages []int `json:"selectedImages"`
}

// Approve handles POST /api/drafts/{id}/approve. An empty body approves
// every preview.
func (h *Drafts) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Approve(r.Context(), id, req.SelectedImages)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reject handles POST /api/drafts/{id}/reject.
func (h *Drafts) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Reject(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
