// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"postforge/internal/models"
)

// TemplateStore handles all template-related database operations.
type TemplateStore struct {
	db *sql.DB
}

// NewTemplateStore creates a new TemplateStore with the given database connection.
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// templateColumns lists the columns selected in template queries.
const templateColumns = `id, name, description, category, reference_image_url,
	variations, settings, is_public, created_by, usage_count, tags, status,
	error_message, created_at, updated_at`

// scanTemplate scans a template row and decodes its JSONB columns.
func scanTemplate(row scanner) (*models.Template, error) {
	var (
		t                        models.Template
		variations, settings, tg []byte
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Category, &t.ReferenceImageURL,
		&variations, &settings, &t.IsPublic, &t.CreatedBy, &t.UsageCount, &tg,
		&t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeColumn(variations, &t.Variations, "variations"); err != nil {
		return nil, err
	}
	if err := decodeColumn(settings, &t.Settings, "settings"); err != nil {
		return nil, err
	}
	if err := decodeColumn(tg, &t.Tags, "tags"); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new template and returns it with the generated ID.
// Usage count always starts at zero.
func (s *TemplateStore) Create(ctx context.Context, t *models.Template) (*models.Template, error) {
	return insertTemplate(ctx, s.db, t)
}

// insertTemplate is shared with the draft approval transaction.
func insertTemplate(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, t *models.Template) (*models.Template, error) {
	variations, err := jsonColumn(t.Variations)
	if err != nil {
		return nil, err
	}
	tags, err := jsonColumn(t.Tags)
	if err != nil {
		return nil, err
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO templates (name, description, category, reference_image_url,
			variations, settings, is_public, created_by, usage_count, tags,
			status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11)
		RETURNING `+templateColumns,
		t.Name, t.Description, t.Category, t.ReferenceImageURL,
		variations, settings, t.IsPublic, t.CreatedBy, tags,
		t.Status, t.ErrorMessage,
	)
	created, err := scanTemplate(row)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return created, nil
}

// FindByID retrieves a template by its UUID. Returns nil if not found.
func (s *TemplateStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find template by id: %w", err)
	}
	return t, nil
}

// TemplateFilter narrows ListPublic. Zero values mean "any".
type TemplateFilter struct {
	Category models.Category
	Limit    int
	Offset   int
}

// ListPublic returns completed public templates, newest first.
func (s *TemplateStore) ListPublic(ctx context.Context, f TemplateFilter) ([]models.Template, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM templates
		WHERE is_public = TRUE AND status = 'completed'
			AND ($1 = '' OR category = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(f.Category), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list public templates: %w", err)
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

// FinishGeneration records the outcome of a batch for a template that was
// persisted in processing status. Returns ErrStateConflict if the template
// is no longer processing.
func (s *TemplateStore) FinishGeneration(ctx context.Context, id uuid.UUID, variations []models.Variation, status models.TemplateStatus, errMsg *string) error {
	raw, err := jsonColumn(variations)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET
			variations = $1, status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'processing'
	`, raw, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish template generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateConflict
	}
	return nil
}

// UpdateMetadata applies the non-nil fields of m. Variations and the
// reference image are never touched here.
func (s *TemplateStore) UpdateMetadata(ctx context.Context, id uuid.UUID, m models.TemplateMetadata) (*models.Template, error) {
	var tags []byte
	if m.Tags != nil {
		var err error
		if tags, err = jsonColumn(m.Tags); err != nil {
			return nil, err
		}
	}
	var category *string
	if m.Category != nil {
		c := string(*m.Category)
		category = &c
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE templates SET
			name        = COALESCE($1, name),
			description = COALESCE($2, description),
			category    = COALESCE($3, category),
			tags        = COALESCE($4::jsonb, tags),
			is_public   = COALESCE($5, is_public),
			updated_at  = NOW()
		WHERE id = $6
		RETURNING `+templateColumns,
		m.Name, m.Description, category, tags, m.IsPublic, id,
	)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update template metadata: %w", err)
	}
	return t, nil
}

// IncrementUsage bumps the usage counter and returns the new value.
// Returns sql.ErrNoRows wrapped if the template does not exist.
func (s *TemplateStore) IncrementUsage(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE templates SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING usage_count
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment template usage: %w", err)
	}
	return count, nil
}

// Delete removes a template and returns the deleted row.
// Returns nil if not found.
func (s *TemplateStore) Delete(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM templates WHERE id = $1 RETURNING `+templateColumns, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete template: %w", err)
	}
	return t, nil
}
