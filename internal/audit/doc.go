// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package audit delivers security audit events off the request path.
//
// A Dispatcher implements auth.AuditSink. It buffers events, writes them in
// batches to a Writer, and appends batches the Writer rejects to a JSONL
// write-ahead log that ReplayWAL re-delivers on the next start. When the
// buffer is full, events are dropped and counted.
package audit
