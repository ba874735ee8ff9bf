// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// DraftStatus is the review state of a draft. Transitions only move forward:
// pending -> generating -> ready_for_review -> approved|rejected.
type DraftStatus string

const (
	DraftStatusPending        DraftStatus = "pending"
	DraftStatusGenerating     DraftStatus = "generating"
	DraftStatusReadyForReview DraftStatus = "ready_for_review"
	DraftStatusApproved       DraftStatus = "approved"
	DraftStatusRejected       DraftStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s DraftStatus) Terminal() bool {
	return s == DraftStatusApproved || s == DraftStatusRejected
}

// PreviewImage is one generated candidate awaiting review.
type PreviewImage struct {
	Prompt     string `json:"prompt"`
	ImageURL   string `json:"imageUrl"`
	Order      int    `json:"order"`
	IsApproved bool   `json:"isApproved"`
}

// Draft is an in-progress template: a batch of prompts plus the previews
// generated for them. It is persisted before generation starts so that a
// crashed batch still leaves an inspectable row in generating status.
type Draft struct {
	ID                 uuid.UUID      `json:"id"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	Category           Category       `json:"category"`
	Prompts            []string       `json:"prompts"`
	ReferenceImageURLs []string       `json:"referenceImageUrls"`
	PreviewImages      []PreviewImage `json:"previewImages"`
	Settings           Settings       `json:"settings"`
	Status             DraftStatus    `json:"status"`
	CreatedBy          string         `json:"createdBy"`
	Tags               []string       `json:"tags"`
	IsPublic           bool           `json:"isPublic"`
	ErrorMessage       *string        `json:"errorMessage,omitempty"`
	ApprovedTemplateID *uuid.UUID     `json:"approvedTemplateId,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// ReferenceImage is a decoded input image handed to the generator.
// It is never persisted as its own row.
type ReferenceImage struct {
	Data     []byte
	MimeType string
}
