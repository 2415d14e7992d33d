// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package audit

import (
	"context"
	"log/slog"

	"github.com/commguard/commguard/internal/auth"
)

// LogSink writes audit events as structured log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

var (
	_ auth.AuditSink = (*LogSink)(nil)
	_ Writer         = (*LogSink)(nil)
)

// Record logs one event.
func (s *LogSink) Record(ctx context.Context, event auth.AuditEvent) error {
	return s.Write(ctx, []auth.AuditEvent{event})
}

// Write logs each event at info level.
func (s *LogSink) Write(ctx context.Context, events []auth.AuditEvent) error {
	for _, e := range events {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("event_id", e.ID.String()),
			slog.String("account_id", e.AccountID.String()),
			slog.String("action", e.Action),
			slog.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}
