package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

// duplicateKey is the MySQL error number for unique constraint violations.
const duplicateKey = 1062

func isDuplicate(err error) bool {
	var merr *mysql.MySQLError
	return errors.As(err, &merr) && merr.Number == duplicateKey
}

func (s *Store) CreateTemplate(ctx context.Context, t *core.Template) error {
	document, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling template: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO templates (id, tenant_id, code, name, category, module, active, deleted, version, instance_count, created_at, updated_at, document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.TenantID,
		t.Code,
		t.Name,
		t.Category,
		t.Module,
		t.Active,
		t.Deleted,
		t.Audit.Version,
		t.Stats.InstanceCount,
		t.Audit.CreatedAt.UTC(),
		t.Audit.UpdatedAt.UTC(),
		string(document),
	)
	if err != nil {
		if isDuplicate(err) {
			return backend.ErrCodeExists
		}
		return fmt.Errorf("inserting template: %w", err)
	}

	return nil
}

func (s *Store) GetTemplate(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	var document string
	var instanceCount int64

	err := s.db.QueryRowContext(
		ctx,
		"SELECT document, instance_count FROM templates WHERE tenant_id = ? AND id = ?",
		tenantID, templateID,
	).Scan(&document, &instanceCount)
	if err == sql.ErrNoRows {
		return nil, backend.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	return unmarshalTemplate(document, instanceCount)
}

func (s *Store) ListTemplates(ctx context.Context, tenantID string, filter backend.TemplateFilter) ([]*core.Template, int64, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if !filter.IncludeDeleted {
		where = append(where, "deleted = FALSE")
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, *filter.Active)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Module != "" {
		where = append(where, "module = ?")
		args = append(args, filter.Module)
	}
	if filter.Search != "" {
		where = append(where, "(name LIKE ? OR code LIKE ? OR document LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	condition := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM templates WHERE "+condition, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting templates: %w", err)
	}

	page := filter.Page.Normalize()
	query := "SELECT document, instance_count FROM templates WHERE " + condition +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, page.Limit, filter.Page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []*core.Template
	for rows.Next() {
		var document string
		var instanceCount int64
		if err := rows.Scan(&document, &instanceCount); err != nil {
			return nil, 0, fmt.Errorf("scanning template: %w", err)
		}

		t, err := unmarshalTemplate(document, instanceCount)
		if err != nil {
			return nil, 0, err
		}
		templates = append(templates, t)
	}

	return templates, total, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t *core.Template) error {
	document, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling template: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE templates SET code = ?, name = ?, category = ?, module = ?, active = ?, deleted = ?, version = ?, updated_at = ?, document = ?
			WHERE tenant_id = ? AND id = ? AND version = ?`,
		t.Code,
		t.Name,
		t.Category,
		t.Module,
		t.Active,
		t.Deleted,
		t.Audit.Version,
		t.Audit.UpdatedAt.UTC(),
		string(document),
		t.TenantID,
		t.ID,
		t.Audit.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating template: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetTemplate(ctx, t.TenantID, t.ID); err != nil {
			return err
		}
		return backend.ErrVersionConflict
	}

	return nil
}

func (s *Store) TemplateCodeExists(ctx context.Context, tenantID, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		"SELECT 1 FROM templates WHERE tenant_id = ? AND code = ?",
		tenantID, code,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking template code: %w", err)
	}
	return true, nil
}

func (s *Store) IncrementTemplateUsage(ctx context.Context, tenantID, templateID string) error {
	res, err := s.db.ExecContext(
		ctx,
		"UPDATE templates SET instance_count = instance_count + 1 WHERE tenant_id = ? AND id = ?",
		tenantID, templateID,
	)
	if err != nil {
		return fmt.Errorf("incrementing template usage: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return backend.ErrTemplateNotFound
	}
	return nil
}

func unmarshalTemplate(document string, instanceCount int64) (*core.Template, error) {
	var t core.Template
	if err := json.Unmarshal([]byte(document), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling template: %w", err)
	}
	t.Stats.InstanceCount = instanceCount
	return &t, nil
}
