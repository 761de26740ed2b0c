// Package audit keeps the console's append-only audit trail. Every
// security-relevant action (logins, file operations, account administration)
// becomes one Record, written as a single text line to the primary audit file
// that the log viewer reads back, and optionally forwarded to further sinks
// through the Shipper interface (a JSON file for log collectors, or a webhook
// feeding a SIEM). Audit records are kept apart from application logs: slog
// output is operational and ephemeral, the audit file is the durable trail.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/safego"
)

// Shipper delivers audit records to a destination.
type Shipper interface {
	// Ship sends a record to the destination
	Ship(ctx context.Context, record *Record) error
	// Close flushes pending records and releases resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the enabled shippers from configuration.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File.Path, cfg.File.MaxSizeMB, FormatJSON)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len reports how many shippers are active.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends a record to every shipper, continuing past failures. The
// returned error joins every shipper failure.
func (ms *MultiShipper) Ship(ctx context.Context, record *Record) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts records as JSON to an HTTP endpoint, either one per
// request or in batches.
type WebhookShipper struct {
	url           string
	headers       map[string]string
	timeout       time.Duration
	batchSize     int
	flushInterval time.Duration

	client    *http.Client
	batchCh   chan *Record
	batch     []*Record
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
	workers   safego.Group
}

// NewWebhookShipper creates a webhook shipper. A positive batch size starts a
// background batch processor.
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	flushInterval := time.Duration(cfg.FlushInterval) * time.Second
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ws := &WebhookShipper{
		url:           cfg.URL,
		headers:       cfg.Headers,
		timeout:       timeout,
		batchSize:     cfg.BatchSize,
		flushInterval: flushInterval,
		client:        &http.Client{Timeout: timeout},
		batchCh:       make(chan *Record, 1000),
		batch:         make([]*Record, 0),
		closeCh:       make(chan struct{}),
	}

	if ws.batchSize > 0 {
		ws.workers.Go("audit-webhook-batcher", ws.processBatches)
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	ticker := time.NewTicker(ws.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, record)
			if len(ws.batch) >= ws.batchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
		drain:
			for {
				select {
				case record := <-ws.batchCh:
					ws.batch = append(ws.batch, record)
				default:
					break drain
				}
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Callers hold batchMu.
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	ws.batch = ws.batch[:0]
	if err != nil {
		slog.Warn("audit webhook: failed to marshal batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		slog.Warn("audit webhook: failed to send batch", "url", ws.url, "error", err)
	}
}

// Ship sends a record to the webhook, or queues it when batching.
func (ws *WebhookShipper) Ship(ctx context.Context, record *Record) error {
	if ws.batchSize > 0 {
		select {
		case ws.batchCh <- record:
			return nil
		default:
			// queue full, send directly
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close flushes any batched records and stops the batch processor.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	ws.workers.Wait()
	return nil
}

// Format selects how a FileShipper serializes records.
type Format int

const (
	// FormatText writes Record.Line output.
	FormatText Format = iota
	// FormatJSON writes one JSON object per line.
	FormatJSON
)

// FileShipper appends records to a file, rotating it by size. Rotated files
// are kept as path.1, path.2, ... in rotation order and never removed.
type FileShipper struct {
	path      string
	maxSizeMB int
	format    Format

	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) path for appending. maxSizeMB <= 0
// disables rotation.
func NewFileShipper(path string, maxSizeMB int, format Format) (*FileShipper, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileShipper{
		path:      path,
		maxSizeMB: maxSizeMB,
		format:    format,
		file:      file,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// Path returns the active file path.
func (fs *FileShipper) Path() string { return fs.path }

// Ship appends one line for record with a single write call.
func (fs *FileShipper) Ship(_ context.Context, record *Record) error {
	var data []byte
	switch fs.format {
	case FormatJSON:
		b, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal audit record: %w", err)
		}
		data = b
	default:
		data = []byte(record.Line())
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file == nil {
		return errors.New("audit file is closed")
	}

	if fs.maxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > 0 && info.Size()+int64(len(data)) > int64(fs.maxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Warn("audit: failed to rotate log file", "path", fs.path, "error", err)
				if fs.file == nil {
					return fmt.Errorf("failed to reopen audit log after rotation: %w", err)
				}
			}
		}
	}

	if _, err := fs.file.Write(data); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// rotate renames the active file to the next free backup number and opens a
// fresh one. Callers hold fs.mu.
func (fs *FileShipper) rotate() error {
	backups, err := listBackups(fs.path)
	if err != nil {
		return err
	}
	next := 1
	if len(backups) > 0 {
		next = backups[len(backups)-1] + 1
	}

	if err := fs.file.Close(); err != nil {
		return err
	}
	fs.file = nil

	renameErr := os.Rename(fs.path, backupPath(fs.path, next))

	// reopen even when the rename failed so records keep landing somewhere
	file, err := openAppend(fs.path)
	if err != nil {
		return err
	}
	fs.file = file
	return renameErr
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// listBackups returns the backup numbers present next to path, ascending.
func listBackups(path string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	prefix := filepath.Base(path) + "."
	var nums []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), prefix))
		if err != nil || n < 1 {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// ReadLines returns every line in the rotated backups (oldest first) followed
// by the active file. It reports os.ErrNotExist when no file exists at all.
func (fs *FileShipper) ReadLines() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	backups, err := listBackups(fs.path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(backups)+1)
	for _, n := range backups {
		paths = append(paths, backupPath(fs.path, n))
	}
	paths = append(paths, fs.path)

	var (
		lines []string
		found bool
	)
	for _, p := range paths {
		got, err := readFileLines(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		lines = append(lines, got...)
	}
	if !found {
		return nil, os.ErrNotExist
	}
	return lines, nil
}

// readFileLines reads path line by line with no limit on line length.
func readFileLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	return err
}
