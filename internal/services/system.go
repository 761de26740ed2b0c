package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/sysinfo"
)

// AuditReader returns the raw audit lines in creation order.
type AuditReader interface {
	ReadAll(ctx context.Context) ([]string, error)
}

// AuditViewer exposes the audit trail to admins.
type AuditViewer struct {
	log AuditReader
}

// NewAuditViewer creates an AuditViewer.
func NewAuditViewer(log AuditReader) *AuditViewer {
	return &AuditViewer{log: log}
}

// Lines returns the audit trail, or the "No logs yet." placeholder.
func (v *AuditViewer) Lines(ctx context.Context, p auth.Principal) ([]string, error) {
	if !p.Can(auth.ActionViewAuditLog) {
		return nil, apperr.ErrPermissionDenied
	}
	return v.log.ReadAll(ctx)
}

// HostInspector reports host utilisation and running processes.
type HostInspector interface {
	Metrics(ctx context.Context) (sysinfo.Metrics, error)
	ListProcesses(ctx context.Context) []string
}

// SystemService gates host inspection behind the view-system permission.
type SystemService struct {
	host HostInspector
}

// NewSystemService creates a SystemService.
func NewSystemService(host HostInspector) *SystemService {
	return &SystemService{host: host}
}

// Metrics returns a utilisation snapshot. A sampling failure is not an error:
// the snapshot comes back with zero readings and Error describing the failure.
func (s *SystemService) Metrics(ctx context.Context, p auth.Principal) (*sysinfo.Metrics, error) {
	if !p.Can(auth.ActionViewSystem) {
		return nil, apperr.ErrPermissionDenied
	}
	m, err := s.host.Metrics(ctx)
	if err != nil {
		slog.Warn("failed to collect host metrics", "user", p.Username, "error", err)
		return &sysinfo.Metrics{
			CollectedAt: time.Now().UTC(),
			Error:       fmt.Sprintf("Error fetching metrics: %v", err),
		}, nil
	}
	return &m, nil
}

// Processes returns the truncated process listing.
func (s *SystemService) Processes(ctx context.Context, p auth.Principal) ([]string, error) {
	if !p.Can(auth.ActionViewSystem) {
		return nil, apperr.ErrPermissionDenied
	}
	return s.host.ListProcesses(ctx), nil
}
