package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

// IncrementCounter uses the LAST_INSERT_ID trick so the increment and the
// read of the new value are a single statement.
func (s *Store) IncrementCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO counters (tenant_id, kind, year, month, value, updated_at) VALUES (?, ?, ?, ?, LAST_INSERT_ID(1), ?)
			ON DUPLICATE KEY UPDATE value = LAST_INSERT_ID(value + 1), updated_at = VALUES(updated_at)`,
		key.TenantID, key.Kind, key.Year, key.Month, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}

	value, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading counter value: %w", err)
	}
	return value, nil
}

func (s *Store) GetCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	var value int64

	err := s.db.QueryRowContext(
		ctx,
		"SELECT value FROM counters WHERE tenant_id = ? AND kind = ? AND year = ? AND month = ?",
		key.TenantID, key.Kind, key.Year, key.Month,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, backend.ErrCounterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying counter: %w", err)
	}

	return value, nil
}

func (s *Store) ListCounters(ctx context.Context, tenantID string) ([]core.CounterInfo, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT kind, year, month, value, updated_at FROM counters WHERE tenant_id = ? ORDER BY kind, year, month",
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	defer rows.Close()

	var infos []core.CounterInfo
	for rows.Next() {
		info := core.CounterInfo{Key: core.CounterKey{TenantID: tenantID}}

		if err := rows.Scan(&info.Key.Kind, &info.Key.Year, &info.Key.Month, &info.Value, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (s *Store) ResetCounters(ctx context.Context, tenantID string, kinds []string) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")
	args := make([]any, 0, len(kinds)+1)
	args = append(args, tenantID)
	for _, kind := range kinds {
		args = append(args, kind)
	}

	res, err := s.db.ExecContext(
		ctx,
		"DELETE FROM counters WHERE tenant_id = ? AND kind IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("resetting counters: %w", err)
	}

	return res.RowsAffected()
}

func (s *Store) SaveCounterConfig(ctx context.Context, tenantID string, cfg core.CounterConfig) error {
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling counter config: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO counter_configs (tenant_id, kind, config, updated_at) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE config = VALUES(config), updated_at = VALUES(updated_at)`,
		tenantID, cfg.Kind, string(config), s.now(),
	)
	if err != nil {
		return fmt.Errorf("saving counter config: %w", err)
	}

	return nil
}

func (s *Store) GetCounterConfig(ctx context.Context, tenantID, kind string) (core.CounterConfig, error) {
	var config string

	err := s.db.QueryRowContext(
		ctx,
		"SELECT config FROM counter_configs WHERE tenant_id = ? AND kind = ?",
		tenantID, kind,
	).Scan(&config)
	if err == sql.ErrNoRows {
		return core.CounterConfig{}, backend.ErrCounterNotFound
	}
	if err != nil {
		return core.CounterConfig{}, fmt.Errorf("querying counter config: %w", err)
	}

	var cfg core.CounterConfig
	if err := json.Unmarshal([]byte(config), &cfg); err != nil {
		return core.CounterConfig{}, fmt.Errorf("unmarshaling counter config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ListCounterConfigs(ctx context.Context, tenantID string) ([]core.CounterConfig, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT config FROM counter_configs WHERE tenant_id = ? ORDER BY kind",
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying counter configs: %w", err)
	}
	defer rows.Close()

	var configs []core.CounterConfig
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, fmt.Errorf("scanning counter config: %w", err)
		}

		var cfg core.CounterConfig
		if err := json.Unmarshal([]byte(config), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling counter config: %w", err)
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}
