// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
)

const insertAuditSQL = `INSERT INTO audit_logs (id, account_id, action, created_at) VALUES ($1, $2, $3, $4)`

// AuditWriter appends audit events to the audit_logs table.
type AuditWriter struct {
	pool Pool
}

// NewAuditWriter creates an AuditWriter.
func NewAuditWriter(pool Pool) *AuditWriter {
	return &AuditWriter{pool: pool}
}

var _ auth.AuditSink = (*AuditWriter)(nil)

// Record writes one event synchronously.
func (w *AuditWriter) Record(ctx context.Context, event auth.AuditEvent) error {
	return w.Write(ctx, []auth.AuditEvent{event})
}

// Write appends a batch of events in one transaction.
func (w *AuditWriter) Write(ctx context.Context, events []auth.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return dependency("AUDIT_WRITE_FAILED", "begin transaction", err)
	}
	for i := range events {
		e := &events[i]
		if _, err := tx.Exec(ctx, insertAuditSQL, eventID(e), nullableID(e.AccountID), e.Action, eventTime(e)); err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // insert error takes precedence
			return oops.With("action", e.Action).Wrap(dependency("AUDIT_WRITE_FAILED", "insert audit_log", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return dependency("AUDIT_WRITE_FAILED", "commit audit batch", err)
	}
	return nil
}

// AuditEntry is one stored audit row.
type AuditEntry struct {
	ID        string
	Action    string
	Timestamp time.Time
}

// ListByAccount returns the most recent audit rows of an account, newest first.
func ListByAccount(ctx context.Context, q Querier, accountID ulid.ULID, limit int) ([]AuditEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, action, created_at FROM audit_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID.String(), limit)
	if err != nil {
		return nil, dependency("AUDIT_LIST_FAILED", "query audit_logs", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Timestamp); err != nil {
			return nil, dependency("AUDIT_LIST_FAILED", "scan audit_log", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dependency("AUDIT_LIST_FAILED", "iterate audit_logs", err)
	}
	return out, nil
}

func eventID(e *auth.AuditEvent) string {
	if e.ID.Compare(ulid.ULID{}) == 0 {
		return ulid.Make().String()
	}
	return e.ID.String()
}

func eventTime(e *auth.AuditEvent) time.Time {
	if e.Timestamp.IsZero() {
		return time.Now()
	}
	return e.Timestamp
}

func nullableID(id ulid.ULID) *string {
	if id.Compare(ulid.ULID{}) == 0 {
		return nil
	}
	s := id.String()
	return &s
}
