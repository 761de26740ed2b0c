package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/storage"
	"github.com/opsconsole/opsconsole/internal/telemetry"
	"github.com/opsconsole/opsconsole/pkg/checksum"
)

// Audit details for the expected failure cases.
const (
	DetailFileExists = "File exists"
	DetailNotFound   = "Not found"
)

type fileOp string

const (
	opCreate fileOp = "create"
	opRead   fileOp = "read"
	opWrite  fileOp = "write"
	opDelete fileOp = "delete"
	opList   fileOp = "list"
)

var fileOpVerbs = map[fileOp]string{
	opCreate: "Create",
	opRead:   "Read",
	opWrite:  "Write",
	opDelete: "Delete",
	opList:   "List",
}

func (op fileOp) action(name string) string {
	if name == "" {
		return fileOpVerbs[op]
	}
	return fileOpVerbs[op] + " " + name
}

var fileOpActions = map[fileOp]auth.Action{
	opCreate: auth.ActionCreateFile,
	opRead:   auth.ActionReadFile,
	opWrite:  auth.ActionWriteFile,
	opDelete: auth.ActionDeleteFile,
	opList:   auth.ActionReadFile,
}

// FileContent is the result of a successful read.
type FileContent struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Size    int    `json:"size"`
	SHA256  string `json:"sha256"`
}

// FileService performs permission-checked, audited operations on the shared
// workspace. Permission denials and invalid names are returned without an
// audit record; the remaining outcomes are mapped to records by finish.
type FileService struct {
	workspace storage.Workspace
	audit     audit.Recorder
}

// NewFileService creates a FileService.
func NewFileService(workspace storage.Workspace, recorder audit.Recorder) *FileService {
	return &FileService{workspace: workspace, audit: recorder}
}

// guard runs the checks shared by every operation: permission first, then
// the filename.
func (s *FileService) guard(p auth.Principal, op fileOp, name string) error {
	if !p.Can(fileOpActions[op]) {
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "denied").Inc()
		return apperr.ErrPermissionDenied
	}
	if op == opList {
		return nil
	}
	if err := storage.ValidateName(name); err != nil {
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "invalid").Inc()
		return apperr.ErrInvalidFilename
	}
	return nil
}

// finish maps the outcome of a storage step to the returned error, the audit
// record (if any) and the operation counter.
func (s *FileService) finish(ctx context.Context, p auth.Principal, op fileOp, name string, err error) error {
	action := op.action(name)
	switch {
	case err == nil:
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "success").Inc()
		if op != opList {
			s.audit.Record(ctx, p.Username, action, audit.StatusSuccess, "")
		}
		return nil

	case errors.Is(err, storage.ErrExist):
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "already_exists").Inc()
		s.audit.Record(ctx, p.Username, action, audit.StatusFailed, DetailFileExists)
		return apperr.ErrAlreadyExists

	case errors.Is(err, storage.ErrNotExist):
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "not_found").Inc()
		// reads and writes of a missing file are not audited
		if op == opDelete {
			s.audit.Record(ctx, p.Username, action, audit.StatusFailed, DetailNotFound)
		}
		return apperr.ErrNotFound

	case errors.Is(err, apperr.ErrNoContent):
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "no_content").Inc()
		return apperr.ErrNoContent

	case errors.Is(err, storage.ErrInvalidName):
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "invalid").Inc()
		return apperr.ErrInvalidFilename

	default:
		failure := apperr.Failed(action, err)
		telemetry.FileOperationsTotal.WithLabelValues(string(op), "failed").Inc()
		slog.Error("workspace operation failed", "user", p.Username, "operation", string(op), "file", name, "error", err)
		if op != opList {
			s.audit.Record(ctx, p.Username, action, audit.StatusFailed, failure.Detail)
		}
		return failure
	}
}

// Create makes an empty file. An existing file yields apperr.ErrAlreadyExists
// and is left untouched.
func (s *FileService) Create(ctx context.Context, p auth.Principal, name string) error {
	if err := s.guard(p, opCreate, name); err != nil {
		return err
	}
	return s.finish(ctx, p, opCreate, name, s.workspace.Create(ctx, name))
}

// Read returns the file content with its SHA-256 digest.
func (s *FileService) Read(ctx context.Context, p auth.Principal, name string) (*FileContent, error) {
	if err := s.guard(p, opRead, name); err != nil {
		return nil, err
	}

	data, err := s.workspace.Read(ctx, name)
	if err := s.finish(ctx, p, opRead, name, err); err != nil {
		return nil, err
	}
	return &FileContent{
		Name:    name,
		Content: string(data),
		Size:    len(data),
		SHA256:  checksum.SHA256Bytes(data),
	}, nil
}

// Write replaces the content of an existing file. A missing file yields
// apperr.ErrNotFound and is never created; nil content yields
// apperr.ErrNoContent. Neither case is audited.
func (s *FileService) Write(ctx context.Context, p auth.Principal, name string, content *string) error {
	if err := s.guard(p, opWrite, name); err != nil {
		return err
	}
	return s.finish(ctx, p, opWrite, name, s.write(ctx, name, content))
}

func (s *FileService) write(ctx context.Context, name string, content *string) error {
	if content == nil {
		// a missing file takes precedence over missing content
		if _, err := s.workspace.Stat(ctx, name); err != nil {
			return err
		}
		return apperr.ErrNoContent
	}
	return s.workspace.Write(ctx, name, []byte(*content))
}

// Delete removes a file. A missing file yields apperr.ErrNotFound and is
// audited as a failure.
func (s *FileService) Delete(ctx context.Context, p auth.Principal, name string) error {
	if err := s.guard(p, opDelete, name); err != nil {
		return err
	}
	return s.finish(ctx, p, opDelete, name, s.workspace.Delete(ctx, name))
}

// List returns the workspace files sorted by name. Listing is not audited.
func (s *FileService) List(ctx context.Context, p auth.Principal) ([]storage.FileInfo, error) {
	if err := s.guard(p, opList, ""); err != nil {
		return nil, err
	}

	files, err := s.workspace.List(ctx)
	if err := s.finish(ctx, p, opList, "", err); err != nil {
		return nil, err
	}
	return files, nil
}
