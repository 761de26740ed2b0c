package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appconfig "github.com/opsconsole/opsconsole/internal/config"
	appstorage "github.com/opsconsole/opsconsole/internal/storage"
)

// ---------------------------------------------------------------------------
// New(): constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "my-bucket",
		AuthMethod: "service_account",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "my-bucket",
		AuthMethod: "workload_identity",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestNew_ServiceAccountWithCredentialsFile(t *testing.T) {
	// follows the credentials-file path; the missing file may fail now or on first use
	cfg := &appconfig.GCSStorageConfig{
		Bucket:          "my-bucket",
		AuthMethod:      "service_account",
		CredentialsFile: "/nonexistent/credentials.json",
	}
	_, _ = New(cfg)
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestIsPreconditionFailed(t *testing.T) {
	if !isPreconditionFailed(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})) {
		t.Error("412 not recognised")
	}
	if isPreconditionFailed(&googleapi.Error{Code: http.StatusNotFound}) {
		t.Error("404 treated as precondition failure")
	}
	if isPreconditionFailed(errors.New("plain")) {
		t.Error("plain error treated as precondition failure")
	}
}

// ---------------------------------------------------------------------------
// JSON API operations against a fake endpoint
// ---------------------------------------------------------------------------

func newFakeGCS(t *testing.T, handler http.HandlerFunc) *GCSWorkspace {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	w, err := New(&appconfig.GCSStorageConfig{
		Bucket:   "test-bucket",
		Prefix:   "ws",
		Endpoint: srv.URL + "/storage/v1/",
	}, option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func notFoundJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"error":{"code":404,"message":"No such object"}}`)
}

func TestOperations_InvalidNameNeedsNoNetwork(t *testing.T) {
	w := newFakeGCS(t, func(rw http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	ctx := context.Background()

	if err := w.Create(ctx, "a/b"); !errors.Is(err, appstorage.ErrInvalidName) {
		t.Errorf("Create() = %v, want ErrInvalidName", err)
	}
	if _, err := w.Read(ctx, ".."); !errors.Is(err, appstorage.ErrInvalidName) {
		t.Errorf("Read() = %v, want ErrInvalidName", err)
	}
	if err := w.Write(ctx, "", nil); !errors.Is(err, appstorage.ErrInvalidName) {
		t.Errorf("Write() = %v, want ErrInvalidName", err)
	}
}

func TestStatAndDelete_NotFound(t *testing.T) {
	w := newFakeGCS(t, func(rw http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/b/test-bucket/o/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		notFoundJSON(rw)
	})
	ctx := context.Background()

	if _, err := w.Stat(ctx, "missing.txt"); !errors.Is(err, appstorage.ErrNotExist) {
		t.Errorf("Stat() = %v, want ErrNotExist", err)
	}
	if err := w.Delete(ctx, "missing.txt"); !errors.Is(err, appstorage.ErrNotExist) {
		t.Errorf("Delete() = %v, want ErrNotExist", err)
	}
	if err := w.Write(ctx, "missing.txt", []byte("x")); !errors.Is(err, appstorage.ErrNotExist) {
		t.Errorf("Write() = %v, want ErrNotExist", err)
	}
}

func TestStat(t *testing.T) {
	w := newFakeGCS(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{"bucket":"test-bucket","name":"ws/s.txt","size":"3","generation":"7","updated":"2026-01-02T03:04:05Z"}`)
	})

	info, err := w.Stat(context.Background(), "s.txt")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Name != "s.txt" || info.Size != 3 || info.LastModified.Year() != 2026 {
		t.Errorf("Stat() = %+v", info)
	}
}

func TestList_SkipsPrefixesAndSorts(t *testing.T) {
	w := newFakeGCS(t, func(rw http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("prefix"); got != "ws/" {
			t.Errorf("prefix = %q, want ws/", got)
		}
		if got := r.URL.Query().Get("delimiter"); got != "/" {
			t.Errorf("delimiter = %q, want /", got)
		}
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{"kind":"storage#objects","prefixes":["ws/sub/"],"items":[
			{"name":"ws/b.txt","size":"5","updated":"2026-01-02T03:04:05Z"},
			{"name":"ws/a.txt","size":"0","updated":"2026-01-02T03:04:05Z"}
		]}`)
	})

	files, err := w.List(context.Background())
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(files) != 2 || files[0].Name != "a.txt" || files[1].Name != "b.txt" {
		t.Fatalf("List() = %+v, want [a.txt b.txt]", files)
	}
	if files[1].Size != 5 {
		t.Errorf("b.txt size = %d, want 5", files[1].Size)
	}
}
