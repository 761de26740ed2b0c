package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/storage"
)

// newTestWorkspace creates a LocalWorkspace backed by a temporary directory.
func newTestWorkspace(t *testing.T) *LocalWorkspace {
	t.Helper()
	w, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return w
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

func TestNew_EmptyBasePath(t *testing.T) {
	if _, err := New(&config.LocalStorageConfig{}); err == nil {
		t.Error("New() with empty base path = nil error")
	}
}

func TestFactoryRegistration(t *testing.T) {
	cfg := &config.Config{}
	cfg.Workspace.Backend = "local"
	cfg.Workspace.Local.BasePath = t.TempDir()

	ws, err := storage.NewWorkspace(cfg)
	if err != nil {
		t.Fatalf("NewWorkspace(local) error: %v", err)
	}
	if _, ok := ws.(*LocalWorkspace); !ok {
		t.Errorf("NewWorkspace(local) returned %T", ws)
	}
}

// ---------------------------------------------------------------------------
// Create / Read
// ---------------------------------------------------------------------------

func TestCreate_ThenReadIsEmpty(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()

	if err := w.Create(ctx, "notes.txt"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	data, err := w.Read(ctx, "notes.txt")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Read() = %q, want empty", data)
	}
}

func TestCreate_ExistingLeavesContentUntouched(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()

	w.Create(ctx, "notes.txt")
	w.Write(ctx, "notes.txt", []byte("keep me"))

	if err := w.Create(ctx, "notes.txt"); !errors.Is(err, storage.ErrExist) {
		t.Fatalf("second Create() = %v, want ErrExist", err)
	}
	data, _ := w.Read(ctx, "notes.txt")
	if string(data) != "keep me" {
		t.Errorf("content after failed Create = %q, want %q", data, "keep me")
	}
}

func TestCreate_ConcurrentOnlyOneWins(t *testing.T) {
	w := newTestWorkspace(t)
	var wins, exists atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := w.Create(context.Background(), "race.txt"); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrExist):
				exists.Add(1)
			default:
				t.Errorf("Create() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || exists.Load() != 19 {
		t.Errorf("wins=%d exists=%d, want 1/19", wins.Load(), exists.Load())
	}
}

func TestRead_NotFound(t *testing.T) {
	w := newTestWorkspace(t)
	if _, err := w.Read(context.Background(), "missing.txt"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Read() = %v, want ErrNotExist", err)
	}
}

func TestRead_DirectoryIsNotAFile(t *testing.T) {
	w := newTestWorkspace(t)
	os.Mkdir(filepath.Join(w.BasePath(), "subdir"), 0750)

	if _, err := w.Read(context.Background(), "subdir"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Read(dir) = %v, want ErrNotExist", err)
	}
}

// ---------------------------------------------------------------------------
// Write
// ---------------------------------------------------------------------------

func TestWrite_OverwritesFully(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	w.Create(ctx, "a.txt")

	if err := w.Write(ctx, "a.txt", []byte("a much longer first version")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Write(ctx, "a.txt", []byte("short")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	data, _ := w.Read(ctx, "a.txt")
	if string(data) != "short" {
		t.Errorf("content = %q, want %q", data, "short")
	}
}

func TestWrite_MissingDoesNotCreate(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()

	if err := w.Write(ctx, "ghost.txt", []byte("boo")); !errors.Is(err, storage.ErrNotExist) {
		t.Fatalf("Write() = %v, want ErrNotExist", err)
	}
	if _, err := os.Stat(filepath.Join(w.BasePath(), "ghost.txt")); !os.IsNotExist(err) {
		t.Error("Write() created a missing file")
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestDelete(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	w.Create(ctx, "old.txt")

	if err := w.Delete(ctx, "old.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := w.Read(ctx, "old.txt"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Read() after Delete = %v, want ErrNotExist", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.Delete(context.Background(), "missing.txt"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Delete() = %v, want ErrNotExist", err)
	}
}

func TestDelete_RefusesDirectories(t *testing.T) {
	w := newTestWorkspace(t)
	dir := filepath.Join(w.BasePath(), "keep")
	os.Mkdir(dir, 0750)

	if err := w.Delete(context.Background(), "keep"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Delete(dir) = %v, want ErrNotExist", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("Delete() removed a directory")
	}
}

// ---------------------------------------------------------------------------
// List / Stat
// ---------------------------------------------------------------------------

func TestList_SortedFilesOnly(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	for _, n := range []string{"b.txt", "a.txt", "c.txt"} {
		w.Create(ctx, n)
	}
	w.Write(ctx, "b.txt", []byte("12345"))
	os.Mkdir(filepath.Join(w.BasePath(), "dir"), 0750)

	files, err := w.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(files))
	}
	for i, want := range []string{"a.txt", "b.txt", "c.txt"} {
		if files[i].Name != want {
			t.Errorf("files[%d] = %q, want %q", i, files[i].Name, want)
		}
	}
	if files[1].Size != 5 {
		t.Errorf("b.txt size = %d, want 5", files[1].Size)
	}
}

func TestList_Empty(t *testing.T) {
	w := newTestWorkspace(t)
	files, err := w.List(context.Background())
	if err != nil || len(files) != 0 {
		t.Errorf("List() = %v, %v; want empty", files, err)
	}
}

func TestStat(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()
	w.Create(ctx, "s.txt")
	w.Write(ctx, "s.txt", []byte("abc"))

	info, err := w.Stat(ctx, "s.txt")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Name != "s.txt" || info.Size != 3 || info.LastModified.IsZero() {
		t.Errorf("Stat() = %+v", info)
	}

	if _, err := w.Stat(ctx, "nope"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Stat(missing) = %v, want ErrNotExist", err)
	}
}

// ---------------------------------------------------------------------------
// Name validation and context
// ---------------------------------------------------------------------------

func TestOperations_RejectInvalidNames(t *testing.T) {
	w := newTestWorkspace(t)
	ctx := context.Background()

	for _, name := range []string{"", "..", "../escape.txt", "sub/file.txt"} {
		if err := w.Create(ctx, name); !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("Create(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := w.Read(ctx, name); !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("Read(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(w.BasePath()), "escape.txt")); !os.IsNotExist(err) {
		t.Error("path traversal created a file outside the workspace")
	}
}

func TestOperations_CancelledContext(t *testing.T) {
	w := newTestWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Create(ctx, "a.txt"); !errors.Is(err, context.Canceled) {
		t.Errorf("Create() = %v, want context.Canceled", err)
	}
	if _, err := w.List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("List() = %v, want context.Canceled", err)
	}
}
