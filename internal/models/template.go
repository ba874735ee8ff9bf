// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// TemplateStatus tracks where a template is in its generation lifecycle.
type TemplateStatus string

const (
	TemplateStatusDraft      TemplateStatus = "draft"
	TemplateStatusProcessing TemplateStatus = "processing"
	TemplateStatusCompleted  TemplateStatus = "completed"
	TemplateStatusFailed     TemplateStatus = "failed"
)

// Category groups templates in the public catalogue.
type Category string

const (
	CategoryFashion   Category = "fashion"
	CategoryBeauty    Category = "beauty"
	CategoryFood      Category = "food"
	CategoryTravel    Category = "travel"
	CategoryFitness   Category = "fitness"
	CategoryLifestyle Category = "lifestyle"
	CategoryProduct   Category = "product"
	CategoryPortrait  Category = "portrait"
	CategoryOther     Category = "other"
)

// Categories lists every accepted category, in display order.
var Categories = []Category{
	CategoryFashion, CategoryBeauty, CategoryFood, CategoryTravel,
	CategoryFitness, CategoryLifestyle, CategoryProduct, CategoryPortrait,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Sentinel setting values that disable a directive.
const (
	AspectRatioAuto = "auto"
	StyleNone       = "none"
)

// Settings are the generation directives shared by every prompt in a batch.
type Settings struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
	Style       string `json:"style,omitempty"`
}

// Variation is one prompt and its generated image inside a finalized template.
type Variation struct {
	Prompt            string `json:"prompt"`
	GeneratedImageURL string `json:"generatedImageUrl"`
	Order             int    `json:"order"`
}

// Template is the finalized, reusable entity. Its prompts can be replayed
// against a new reference image. Variations never change after creation;
// only the metadata fields can be edited.
type Template struct {
	ID                uuid.UUID      `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Category          Category       `json:"category"`
	ReferenceImageURL string         `json:"referenceImageUrl"`
	Variations        []Variation    `json:"variations"`
	Settings          Settings       `json:"settings"`
	IsPublic          bool           `json:"isPublic"`
	CreatedBy         string         `json:"createdBy"`
	UsageCount        int            `json:"usageCount"`
	Tags              []string       `json:"tags"`
	Status            TemplateStatus `json:"status"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Prompts returns the variation prompts in order.
func (t *Template) Prompts() []string {
	prompts := make([]string, len(t.Variations))
	for i, v := range t.Variations {
		prompts[i] = v.Prompt
	}
	return prompts
}

// TemplateMetadata holds the fields an admin may edit after creation.
// Nil fields are left unchanged.
type TemplateMetadata struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	IsPublic    *bool     `json:"isPublic,omitempty"`
}
