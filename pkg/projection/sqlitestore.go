// sparta-console - Real-time event channel and conversation correlation.
// Copyright (C) 2026 Sparta contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
)

// SQLiteStore persists conversation UI state in a single table.
type SQLiteStore struct {
	db     *dbutil.Database
	tenant string
}

// OpenSQLiteStore opens (creating if needed) the store at path. Rows are
// scoped by tenant so one file can serve several tenants.
func OpenSQLiteStore(ctx context.Context, path, tenant string) (*SQLiteStore, error) {
	raw, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to wrap sqlite database: %w", err)
	}
	s := &SQLiteStore{db: db, tenant: tenant}
	if err = s.ensureSchema(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS conversation_state (
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (tenant_id, conversation_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_state_key_idx
			ON conversation_state (tenant_id, key)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure conversation state schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(ctx, `
		SELECT value FROM conversation_state
		WHERE tenant_id=$1 AND conversation_id=$2 AND key=$3
	`, s.tenant, conversationID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("failed to get %s of %s: %w", key, conversationID, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, conversationID, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_state (tenant_id, conversation_id, key, value, updated_ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, conversation_id, key) DO UPDATE SET
			value=excluded.value,
			updated_ts=excluded.updated_ts
	`, s.tenant, conversationID, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put %s of %s: %w", key, conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, conversationID, key string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM conversation_state WHERE tenant_id=$1 AND conversation_id=$2 AND key=$3
	`, s.tenant, conversationID, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s of %s: %w", key, conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) Scan(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT conversation_id, value FROM conversation_state WHERE tenant_id=$1 AND key=$2
	`, s.tenant, key)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", key, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, value string
		if err = rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("failed to read %s row: %w", key, err)
		}
		out[id] = value
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Rename(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT OR IGNORE INTO conversation_state (tenant_id, conversation_id, key, value, updated_ts)
			SELECT tenant_id, $3, key, value, updated_ts FROM conversation_state
			WHERE tenant_id=$1 AND conversation_id=$2
		`, s.tenant, oldID, newID)
		if err != nil {
			return fmt.Errorf("failed to copy state of %s: %w", oldID, err)
		}
		_, err = s.db.Exec(ctx, `
			DELETE FROM conversation_state WHERE tenant_id=$1 AND conversation_id=$2
		`, s.tenant, oldID)
		if err != nil {
			return fmt.Errorf("failed to drop state of %s: %w", oldID, err)
		}
		return nil
	})
}
