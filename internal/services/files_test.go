package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsconsole/opsconsole/internal/apperr"
	"github.com/opsconsole/opsconsole/internal/audit"
	"github.com/opsconsole/opsconsole/internal/auth"
	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/db/models"
	"github.com/opsconsole/opsconsole/internal/storage"
	"github.com/opsconsole/opsconsole/internal/storage/local"
)

var (
	adminPrincipal = auth.Principal{ID: 1, Username: "admin", Role: models.RoleAdmin}
	userPrincipal  = auth.Principal{ID: 2, Username: "alice", Role: models.RoleUser}
)

func newTestFileService(t *testing.T) (*FileService, *recordingAudit) {
	t.Helper()
	ws, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	rec := &recordingAudit{}
	return NewFileService(ws, rec), rec
}

func strPtr(s string) *string { return &s }

// brokenWorkspace fails every call with a backend fault.
type brokenWorkspace struct{ err error }

func (b brokenWorkspace) Create(context.Context, string) error { return b.err }
func (b brokenWorkspace) Read(context.Context, string) ([]byte, error) { return nil, b.err }
func (b brokenWorkspace) Write(context.Context, string, []byte) error { return b.err }
func (b brokenWorkspace) Delete(context.Context, string) error { return b.err }
func (b brokenWorkspace) List(context.Context) ([]storage.FileInfo, error) { return nil, b.err }
func (b brokenWorkspace) Stat(context.Context, string) (*storage.FileInfo, error) {
	return nil, b.err
}

// ---------------------------------------------------------------------------
// Create / Read
// ---------------------------------------------------------------------------

func TestCreateThenReadIsEmpty(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, userPrincipal, "notes.txt"))
	fc, err := svc.Read(ctx, userPrincipal, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "", fc.Content)
	assert.Equal(t, 0, fc.Size)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", fc.SHA256)

	assert.Equal(t, []auditEntry{
		{"alice", "Create notes.txt", audit.StatusSuccess, ""},
		{"alice", "Read notes.txt", audit.StatusSuccess, ""},
	}, rec.all())
}

func TestCreate_TwiceAlreadyExists(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, adminPrincipal, "a.txt"))
	require.NoError(t, svc.Write(ctx, adminPrincipal, "a.txt", strPtr("keep")))

	err := svc.Create(ctx, userPrincipal, "a.txt")
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	fc, err := svc.Read(ctx, userPrincipal, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", fc.Content)

	entries := rec.all()
	assert.Contains(t, entries, auditEntry{"alice", "Create a.txt", audit.StatusFailed, DetailFileExists})
}

func TestRead_NotFoundIsNotAudited(t *testing.T) {
	svc, rec := newTestFileService(t)

	_, err := svc.Read(context.Background(), userPrincipal, "missing.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, rec.all())
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

func TestWrite_Overwrites(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, adminPrincipal, "r.txt")

	require.NoError(t, svc.Write(ctx, adminPrincipal, "r.txt", strPtr("a much longer first version")))
	require.NoError(t, svc.Write(ctx, adminPrincipal, "r.txt", strPtr("v2")))

	fc, _ := svc.Read(ctx, adminPrincipal, "r.txt")
	assert.Equal(t, "v2", fc.Content)
	assert.Contains(t, rec.all(), auditEntry{"admin", "Write r.txt", audit.StatusSuccess, ""})
}

func TestWrite_MissingNeverCreates(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()

	err := svc.Write(ctx, adminPrincipal, "ghost.txt", strPtr("boo"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Read(ctx, adminPrincipal, "ghost.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, rec.all())
}

func TestWrite_NilContent(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, adminPrincipal, "n.txt")

	assert.ErrorIs(t, svc.Write(ctx, adminPrincipal, "n.txt", nil), apperr.ErrNoContent)
	assert.ErrorIs(t, svc.Write(ctx, adminPrincipal, "absent.txt", nil), apperr.ErrNotFound)
	assert.Len(t, rec.all(), 1, "only the create is audited")
}

func TestWrite_EmptyStringIsContent(t *testing.T) {
	svc, _ := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, adminPrincipal, "e.txt")
	svc.Write(ctx, adminPrincipal, "e.txt", strPtr("something"))

	require.NoError(t, svc.Write(ctx, adminPrincipal, "e.txt", strPtr("")))
	fc, _ := svc.Read(ctx, adminPrincipal, "e.txt")
	assert.Equal(t, "", fc.Content)
}

// ---------------------------------------------------------------------------
// Delete / List
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, adminPrincipal, "old.txt")

	require.NoError(t, svc.Delete(ctx, adminPrincipal, "old.txt"))
	_, err := svc.Read(ctx, adminPrincipal, "old.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, rec.all(), auditEntry{"admin", "Delete old.txt", audit.StatusSuccess, ""})
}

func TestDelete_MissingIsAuditedFailure(t *testing.T) {
	svc, rec := newTestFileService(t)

	err := svc.Delete(context.Background(), adminPrincipal, "missing.txt")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []auditEntry{{"admin", "Delete missing.txt", audit.StatusFailed, DetailNotFound}}, rec.all())
}

func TestList(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, userPrincipal, "b.txt")
	svc.Create(ctx, userPrincipal, "a.txt")
	before := len(rec.all())

	files, err := svc.List(ctx, userPrincipal)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name)
	assert.Equal(t, "b.txt", files[1].Name)
	assert.Len(t, rec.all(), before, "listing is not audited")
}

// ---------------------------------------------------------------------------
// Permission and input checks
// ---------------------------------------------------------------------------

func TestUserCannotWriteOrDelete(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()
	svc.Create(ctx, userPrincipal, "mine.txt")
	before := len(rec.all())

	assert.ErrorIs(t, svc.Write(ctx, userPrincipal, "mine.txt", strPtr("x")), apperr.ErrPermissionDenied)
	assert.ErrorIs(t, svc.Delete(ctx, userPrincipal, "mine.txt"), apperr.ErrPermissionDenied)
	assert.Len(t, rec.all(), before, "denials are not audited")

	fc, err := svc.Read(ctx, userPrincipal, "mine.txt")
	require.NoError(t, err)
	assert.Equal(t, "", fc.Content)
}

func TestUnknownRoleDenied(t *testing.T) {
	svc, _ := newTestFileService(t)
	ghost := auth.Principal{Username: "ghost", Role: models.Role("guest")}

	assert.ErrorIs(t, svc.Create(context.Background(), ghost, "x.txt"), apperr.ErrPermissionDenied)
	_, err := svc.List(context.Background(), ghost)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestInvalidFilename(t *testing.T) {
	svc, rec := newTestFileService(t)
	ctx := context.Background()

	for _, name := range []string{"", "..", "../etc/passwd", "dir/file.txt"} {
		assert.ErrorIs(t, svc.Create(ctx, adminPrincipal, name), apperr.ErrInvalidFilename, "create %q", name)
		_, err := svc.Read(ctx, adminPrincipal, name)
		assert.ErrorIs(t, err, apperr.ErrInvalidFilename, "read %q", name)
	}
	assert.Empty(t, rec.all())
}

// ---------------------------------------------------------------------------
// Storage faults
// ---------------------------------------------------------------------------

func TestStorageFaultIsOperationFailedAndAudited(t *testing.T) {
	rec := &recordingAudit{}
	svc := NewFileService(brokenWorkspace{err: errors.New("disk on fire")}, rec)
	ctx := context.Background()

	err := svc.Create(ctx, adminPrincipal, "x.txt")
	var opErr *apperr.OperationFailedError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "disk on fire", opErr.Detail)

	_, err = svc.Read(ctx, adminPrincipal, "x.txt")
	assert.True(t, apperr.IsOperationFailed(err))

	err = svc.Write(ctx, adminPrincipal, "x.txt", strPtr("y"))
	assert.True(t, apperr.IsOperationFailed(err))

	_, err = svc.List(ctx, adminPrincipal)
	assert.True(t, apperr.IsOperationFailed(err))

	assert.Equal(t, []auditEntry{
		{"admin", "Create x.txt", audit.StatusFailed, "disk on fire"},
		{"admin", "Read x.txt", audit.StatusFailed, "disk on fire"},
		{"admin", "Write x.txt", audit.StatusFailed, "disk on fire"},
	}, rec.all())
}
