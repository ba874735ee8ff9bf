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

// DraftStore handles all draft-related database operations.
type DraftStore struct {
	db *sql.DB
}

// NewDraftStore creates a new DraftStore with the given database connection.
func NewDraftStore(db *sql.DB) *DraftStore {
	return &DraftStore{db: db}
}

// draftColumns lists the columns selected in draft queries.
const draftColumns = `id, name, description, category, prompts, reference_image_urls,
	preview_images, settings, status, created_by, tags, is_public, error_message,
	approved_template_id, created_at, updated_at`

// scanDraft scans a draft row and decodes its JSONB columns.
func scanDraft(row scanner) (*models.Draft, error) {
	var (
		d                                      models.Draft
		prompts, refs, previews, settings, tgs []byte
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.Category, &prompts, &refs,
		&previews, &settings, &d.Status, &d.CreatedBy, &tgs, &d.IsPublic,
		&d.ErrorMessage, &d.ApprovedTemplateID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, c := range []struct {
		raw  []byte
		dst  any
		name string
	}{
		{prompts, &d.Prompts, "prompts"},
		{refs, &d.ReferenceImageURLs, "reference_image_urls"},
		{previews, &d.PreviewImages, "preview_images"},
		{settings, &d.Settings, "settings"},
		{tgs, &d.Tags, "tags"},
	} {
		if err := decodeColumn(c.raw, c.dst, c.name); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// Create inserts a new draft and returns it with the generated ID.
func (s *DraftStore) Create(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	prompts, err := jsonColumn(d.Prompts)
	if err != nil {
		return nil, err
	}
	refs, err := jsonColumn(d.ReferenceImageURLs)
	if err != nil {
		return nil, err
	}
	previews, err := jsonColumn(d.PreviewImages)
	if err != nil {
		return nil, err
	}
	tags, err := jsonColumn(d.Tags)
	if err != nil {
		return nil, err
	}
	settings, err := json.Marshal(d.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO draft_templates (name, description, category, prompts,
			reference_image_urls, preview_images, settings, status, created_by,
			tags, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+draftColumns,
		d.Name, d.Description, d.Category, prompts,
		refs, previews, settings, d.Status, d.CreatedBy,
		tags, d.IsPublic,
	)
	created, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	return created, nil
}

// FindByID retrieves a draft by its UUID. Returns nil if not found.
func (s *DraftStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM draft_templates WHERE id = $1`, id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find draft by id: %w", err)
	}
	return d, nil
}

// DraftFilter narrows List. Zero values mean "any".
type DraftFilter struct {
	CreatedBy string
	Status    models.DraftStatus
	Limit     int
	Offset    int
}

// List returns drafts ordered by creation date, newest first.
func (s *DraftStore) List(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+draftColumns+`
		FROM draft_templates
		WHERE ($1 = '' OR created_by = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, f.CreatedBy, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	drafts := []models.Draft{}
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, *d)
	}
	return drafts, rows.Err()
}

// FinishGeneration stores the previews of a completed batch. Only a draft
// still in generating status is updated; anything else is ErrStateConflict.
func (s *DraftStore) FinishGeneration(ctx context.Context, id uuid.UUID, previews []models.PreviewImage, status models.DraftStatus, errMsg *string) error {
	raw, err := jsonColumn(previews)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE draft_templates SET
			preview_images = $1, status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'generating'
	`, raw, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish draft generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStateConflict
	}
	return nil
}

// Approve creates tmpl and closes out the draft in one transaction. The
// draft row is locked and its status re-checked, so two concurrent
// approvals produce exactly one template; the loser gets ErrStateConflict.
// previews replaces the draft's preview list so selected entries carry
// IsApproved; none are removed. Returns (nil, nil) if the draft does not exist.
func (s *DraftStore) Approve(ctx context.Context, draftID uuid.UUID, tmpl *models.Template, previews []models.PreviewImage) (*models.Template, error) {
	raw, err := jsonColumn(previews)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status models.DraftStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM draft_templates WHERE id = $1 FOR UPDATE`, draftID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock draft: %w", err)
	}
	if status != models.DraftStatusReadyForReview {
		return nil, ErrStateConflict
	}

	created, err := insertTemplate(ctx, tx, tmpl)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE draft_templates SET
			status = 'approved', approved_template_id = $1,
			preview_images = $2, updated_at = NOW()
		WHERE id = $3
	`, created.ID, raw, draftID)
	if err != nil {
		return nil, fmt.Errorf("approve draft: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}
	return created, nil
}

// Delete removes a draft that has not been approved and returns it so the
// caller can clean up artifacts. Returns (nil, nil) if not found and
// ErrStateConflict if the draft is approved.
func (s *DraftStore) Delete(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM draft_templates
		WHERE id = $1 AND status <> 'approved'
		RETURNING `+draftColumns, id)
	d, err := scanDraft(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delete draft: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM draft_templates WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check draft exists: %w", err)
	}
	if exists {
		return nil, ErrStateConflict
	}
	return nil, nil
}
