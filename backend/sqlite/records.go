package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

func (s *Store) CreateRecord(ctx context.Context, r *core.Record) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO records (id, tenant_id, code, template_id, state_id, primary_owner, priority, due_date, completed_at, deleted, version, created_at, updated_at, document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.TenantID,
		r.Code,
		r.TemplateID,
		r.CurrentState.StateID,
		r.PrimaryOwner,
		string(r.Priority),
		formatTimePtr(r.DueDate),
		formatTimePtr(r.CompletedAt),
		r.Deleted,
		r.Version,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		string(document),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return backend.ErrCodeExists
		}
		return fmt.Errorf("inserting record: %w", err)
	}

	return nil
}

func (s *Store) GetRecord(ctx context.Context, tenantID, recordID string) (*core.Record, error) {
	var document string

	err := s.db.QueryRowContext(
		ctx,
		"SELECT document FROM records WHERE tenant_id = ? AND id = ?",
		tenantID, recordID,
	).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, backend.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}

	return unmarshalRecord(document)
}

var recordSortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"code":       "code",
	"priority":   "priority",
}

func (s *Store) ListRecords(ctx context.Context, tenantID string, filter backend.RecordFilter) ([]*core.Record, int64, error) {
	where := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if !filter.IncludeArchived {
		where = append(where, "deleted = FALSE")
	}
	if filter.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if filter.StateID != "" {
		where = append(where, "state_id = ?")
		args = append(args, filter.StateID)
	}
	if filter.Owner != "" {
		where = append(where, "primary_owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Overdue != nil {
		if *filter.Overdue {
			where = append(where, "due_date IS NOT NULL AND due_date < ? AND completed_at IS NULL")
		} else {
			where = append(where, "(due_date IS NULL OR due_date >= ? OR completed_at IS NOT NULL)")
		}
		args = append(args, formatTime(s.now()))
	}
	if filter.Search != "" {
		where = append(where, "(code LIKE ? OR document LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if filter.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.CreatedFrom))
	}
	if filter.CreatedTo != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*filter.CreatedTo))
	}

	condition := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM records WHERE "+condition, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting records: %w", err)
	}

	column, ok := recordSortColumns[filter.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort field %q", filter.SortBy)
	}
	direction := "DESC"
	if filter.SortDirection == backend.SortAsc {
		direction = "ASC"
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(
		"SELECT document FROM records WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		condition, column, direction,
	)
	args = append(args, page.Limit, filter.Page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []*core.Record
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, 0, fmt.Errorf("scanning record: %w", err)
		}

		r, err := unmarshalRecord(document)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}

	return records, total, rows.Err()
}

func (s *Store) UpdateRecord(ctx context.Context, r *core.Record) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE records SET state_id = ?, primary_owner = ?, priority = ?, due_date = ?, completed_at = ?, deleted = ?, version = ?, updated_at = ?, document = ?
			WHERE tenant_id = ? AND id = ? AND version = ?`,
		r.CurrentState.StateID,
		r.PrimaryOwner,
		string(r.Priority),
		formatTimePtr(r.DueDate),
		formatTimePtr(r.CompletedAt),
		r.Deleted,
		r.Version,
		formatTime(r.UpdatedAt),
		string(document),
		r.TenantID,
		r.ID,
		r.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetRecord(ctx, r.TenantID, r.ID); err != nil {
			return err
		}
		return backend.ErrVersionConflict
	}

	return nil
}

func (s *Store) CountRecords(ctx context.Context, tenantID, templateID, stateID string) (int64, error) {
	query := "SELECT COUNT(*) FROM records WHERE tenant_id = ? AND template_id = ? AND deleted = FALSE"
	args := []any{tenantID, templateID}

	if stateID != "" {
		query += " AND state_id = ?"
		args = append(args, stateID)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

func unmarshalRecord(document string) (*core.Record, error) {
	var r core.Record
	if err := json.Unmarshal([]byte(document), &r); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &r, nil
}
