package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/safego"
	"github.com/opsconsole/opsconsole/internal/telemetry"
)

const forwardTimeout = 15 * time.Second

// Recorder appends entries to the audit trail. Implementations never fail the
// caller.
type Recorder interface {
	Record(ctx context.Context, actor, action string, status Status, detail string)
}

// Log is the console's audit trail: a primary text file read back by the
// viewer plus optional forwarding shippers.
type Log struct {
	primary *FileShipper
	forward Shipper
	now     func() time.Time

	mu      sync.RWMutex
	closed  bool
	pending safego.Group
}

// NewLog opens the audit file at cfg.Path and the configured forwarding
// shippers.
func NewLog(cfg config.AuditConfig) (*Log, error) {
	primary, err := NewFileShipper(cfg.Path, cfg.MaxSizeMB, FormatText)
	if err != nil {
		return nil, err
	}

	ms, err := NewMultiShipper(cfg.Shippers)
	if err != nil {
		primary.Close()
		return nil, err
	}

	var forward Shipper
	if ms.Len() > 0 {
		forward = ms
	}
	return NewLogWithShippers(primary, forward), nil
}

// NewLogWithShippers assembles a Log from an already opened primary file and
// an optional forwarding shipper (nil for none).
func NewLogWithShippers(primary *FileShipper, forward Shipper) *Log {
	return &Log{
		primary: primary,
		forward: forward,
		now:     time.Now,
	}
}

// Record appends one entry. Sink failures are logged at WARN and counted,
// never returned. Forwarding runs in the background so a slow webhook cannot
// stall the operation being audited.
func (l *Log) Record(ctx context.Context, actor, action string, status Status, detail string) {
	rec := &Record{
		Timestamp: l.now(),
		Actor:     actor,
		Action:    action,
		Status:    status,
		Detail:    detail,
	}
	telemetry.AuditRecordsTotal.WithLabelValues(string(status)).Inc()

	if err := l.primary.Ship(ctx, rec); err != nil {
		slog.Warn("audit: failed to write record", "sink", "file", "actor", actor, "action", action, "error", err)
		telemetry.AuditSinkErrorsTotal.WithLabelValues("file").Inc()
	}

	if l.forward == nil {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	shipCtx := context.WithoutCancel(ctx)
	l.pending.Go("audit-forward", func() {
		ctx, cancel := context.WithTimeout(shipCtx, forwardTimeout)
		defer cancel()
		if err := l.forward.Ship(ctx, rec); err != nil {
			slog.Warn("audit: failed to forward record", "sink", "forward", "action", action, "error", err)
			telemetry.AuditSinkErrorsTotal.WithLabelValues("forward").Inc()
		}
	})
}

// ReadAll returns every recorded line in creation order, or the single
// NoLogsPlaceholder line when nothing has been recorded yet.
func (l *Log) ReadAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, err := l.primary.ReadLines()
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(lines) == 0) {
		return []string{NoLogsPlaceholder}, nil
	}
	if err != nil {
		return nil, apperr.Failed("read audit log", err)
	}
	return lines, nil
}

// Close waits for in-flight forwards, then closes every sink.
func (l *Log) Close() error {
	l.mu.Lock()
	already := l.closed
	l.closed = true
	l.mu.Unlock()
	if already {
		return nil
	}

	l.pending.Wait()

	var errs []error
	if l.forward != nil {
		errs = append(errs, l.forward.Close())
	}
	errs = append(errs, l.primary.Close())
	return errors.Join(errs...)
}
