// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/commguard/commguard/internal/auth"
)

// LogNotifier records messages in the log instead of delivering them. The
// body is never logged because it may carry a reset token.
type LogNotifier struct {
	logger *slog.Logger
}

var _ auth.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the recipients and subject.
func (n *LogNotifier) Send(ctx context.Context, to []string, subject, _ string) error {
	n.logger.InfoContext(ctx, "notification suppressed, no smtp relay configured",
		"recipients", to,
		"subject", subject,
	)
	return nil
}
