// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/xdg"
	"github.com/commguard/commguard/pkg/errutil"
)

// Writer persists a batch of audit events.
type Writer interface {
	Write(ctx context.Context, events []auth.AuditEvent) error
}

// Defaults for Config fields left at zero.
const (
	DefaultBufferSize    = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
	DefaultWriteTimeout  = 5 * time.Second
)

// Config controls buffering and batching.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	// WALPath is the fallback log. Empty selects the XDG state directory.
	WALPath string
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("audit dispatcher closed")

// Dispatcher asynchronously forwards audit events to a Writer.
type Dispatcher struct {
	cfg    Config
	writer Writer
	logger *slog.Logger

	ch   chan auth.AuditEvent
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders Record against Close: sends happen under the read lock,
	// and Close sets closed under the write lock before draining.
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Uint64
	closeOnce sync.Once

	walMu   sync.Mutex
	walFile *os.File
}

var _ auth.AuditSink = (*Dispatcher)(nil)

// NewDispatcher starts a Dispatcher. Call Close to flush and stop it.
func NewDispatcher(cfg Config, writer Writer, logger *slog.Logger) (*Dispatcher, error) {
	if writer == nil {
		return nil, oops.Code("AUDIT_INVALID_CONFIG").Errorf("audit writer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if cfg.WALPath == "" {
		path, err := xdg.AuditWALPath()
		if err != nil {
			return nil, oops.Code("AUDIT_INVALID_CONFIG").Wrapf(err, "resolve audit WAL path")
		}
		cfg.WALPath = path
	}

	d := &Dispatcher{
		cfg:    cfg,
		writer: writer,
		logger: logger,
		ch:     make(chan auth.AuditEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d, nil
}

// Record enqueues an event without blocking. A full buffer drops the event.
// An event accepted before Close returns is always flushed.
func (d *Dispatcher) Record(_ context.Context, event auth.AuditEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return oops.Code("AUDIT_CLOSED").With("action", event.Action).Wrap(ErrClosed)
	}
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
		droppedCounter.Inc()
		d.logger.Warn("audit buffer full, event dropped", "action", event.Action)
	}
	return nil
}

// Dropped reports how many events were dropped since start.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events, flushes everything buffered, and closes the WAL.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()
		d.wg.Wait()

		d.walMu.Lock()
		defer d.walMu.Unlock()
		if d.walFile != nil {
			if cerr := d.walFile.Close(); cerr != nil {
				err = oops.Code("AUDIT_WAL_CLOSE_FAILED").With("path", d.cfg.WALPath).Wrap(cerr)
			}
			d.walFile = nil
		}
	})
	return err
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]auth.AuditEvent, 0, d.cfg.BatchSize)
	for {
		select {
		case event := <-d.ch:
			batch = append(batch, event)
			if len(batch) >= d.cfg.BatchSize {
				batch = d.flush(batch)
			}
		case <-ticker.C:
			batch = d.flush(batch)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					batch = append(batch, event)
					if len(batch) >= d.cfg.BatchSize {
						batch = d.flush(batch)
					}
				default:
					d.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes batch and returns it emptied for reuse.
func (d *Dispatcher) flush(batch []auth.AuditEvent) []auth.AuditEvent {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	if err := d.writer.Write(ctx, batch); err != nil {
		failuresCounter.WithLabelValues("write_failed").Inc()
		errutil.LogError(d.logger, "audit write failed, falling back to WAL", err)
		if walErr := d.writeToWAL(batch); walErr != nil {
			failuresCounter.WithLabelValues("wal_failed").Inc()
			d.logger.Error("audit events lost: writer and WAL both failed",
				"count", len(batch),
				"wal_error", walErr,
			)
		}
	}
	return batch[:0]
}

func (d *Dispatcher) writeToWAL(events []auth.AuditEvent) error {
	d.walMu.Lock()
	defer d.walMu.Unlock()

	if d.walFile == nil {
		if err := xdg.EnsureDir(filepath.Dir(d.cfg.WALPath)); err != nil {
			return err
		}
		file, err := os.OpenFile(d.cfg.WALPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", d.cfg.WALPath).Wrap(err)
		}
		d.walFile = file
	}

	for i := range events {
		data, err := json.Marshal(events[i])
		if err != nil {
			return oops.Wrap(err)
		}
		if _, err := fmt.Fprintf(d.walFile, "%s\n", data); err != nil {
			return oops.With("path", d.cfg.WALPath).Wrap(err)
		}
		walEntriesGauge.Inc()
	}
	return nil
}

// ReplayWAL re-delivers events from the write-ahead log in one batch and
// truncates it on success. Unparseable lines are logged and skipped.
func (d *Dispatcher) ReplayWAL(ctx context.Context) (int, error) {
	d.walMu.Lock()
	defer d.walMu.Unlock()

	file, err := os.Open(d.cfg.WALPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.Code("AUDIT_WAL_READ_FAILED").With("path", d.cfg.WALPath).Wrap(err)
	}
	defer file.Close() //nolint:errcheck // read-only

	var events []auth.AuditEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event auth.AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			failuresCounter.WithLabelValues("wal_unmarshal_failed").Inc()
			d.logger.Error("failed to unmarshal WAL entry", "error", err)
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return 0, oops.Code("AUDIT_WAL_READ_FAILED").With("path", d.cfg.WALPath).Wrap(err)
	}

	if len(events) > 0 {
		if err := d.writer.Write(ctx, events); err != nil {
			failuresCounter.WithLabelValues("wal_replay_failed").Inc()
			return 0, oops.Code("AUDIT_WAL_REPLAY_FAILED").With("count", len(events)).Wrap(err)
		}
	}

	if err := os.Truncate(d.cfg.WALPath, 0); err != nil {
		return 0, oops.Code("AUDIT_WAL_TRUNCATE_FAILED").With("path", d.cfg.WALPath).Wrap(err)
	}
	walEntriesGauge.Set(0)
	d.logger.Info("replayed audit WAL", "count", len(events))
	return len(events), nil
}
