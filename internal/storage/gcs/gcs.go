// Package gcs implements the workspace backend on Google Cloud Storage. Each
// workspace file is one object under an optional prefix; create and overwrite
// use generation preconditions so the bucket enforces "create only if absent"
// and "write only if present". Supports Application Default Credentials and
// service account JSON keys.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appconfig "github.com/opsconsole/opsconsole/internal/config"
	appstorage "github.com/opsconsole/opsconsole/internal/storage"
)

const maxWriteAttempts = 3

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Workspace, error) {
		return New(&cfg.Workspace.GCS)
	})
}

// GCSWorkspace implements appstorage.Workspace for Google Cloud Storage
type GCSWorkspace struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a new Google Cloud Storage backend
//
// Authentication methods:
//   - "default" or empty: Application Default Credentials
//     (GOOGLE_APPLICATION_CREDENTIALS, GCE/GKE metadata, gcloud login)
//   - "service_account": a service account key file or inline JSON
func New(cfg *appconfig.GCSStorageConfig, extra ...option.ClientOption) (*GCSWorkspace, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		if cfg.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		} else if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		} else {
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default' or 'service_account')", authMethod)
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSWorkspace{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Close closes the GCS client
func (w *GCSWorkspace) Close() error {
	return w.client.Close()
}

func (w *GCSWorkspace) object(name string) (*storage.ObjectHandle, error) {
	if err := appstorage.ValidateName(name); err != nil {
		return nil, err
	}
	return w.client.Bucket(w.bucket).Object(appstorage.ObjectKey(w.prefix, name)), nil
}

// Create writes an empty object with a DoesNotExist precondition.
func (w *GCSWorkspace) Create(ctx context.Context, name string) error {
	obj, err := w.object(name)
	if err != nil {
		return err
	}

	writer := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return appstorage.ErrExist
		}
		return fmt.Errorf("failed to create GCS object: %w", err)
	}
	return nil
}

// Read downloads the object content.
func (w *GCSWorkspace) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := w.object(name)
	if err != nil {
		return nil, err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object: %w", err)
	}
	return data, nil
}

// Write overwrites an existing object, conditioned on the generation read
// just before so a concurrently deleted object is not recreated.
func (w *GCSWorkspace) Write(ctx context.Context, name string, content []byte) error {
	obj, err := w.object(name)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		attrs, err := w.attrs(ctx, obj)
		if err != nil {
			return err
		}

		writer := obj.If(storage.Conditions{GenerationMatch: attrs.Generation}).NewWriter(ctx)
		if _, err := writer.Write(content); err != nil {
			writer.Close()
			return fmt.Errorf("failed to write to GCS: %w", err)
		}
		err = writer.Close()
		if err == nil {
			return nil
		}
		if !isPreconditionFailed(err) || attempt >= maxWriteAttempts {
			return fmt.Errorf("failed to close GCS writer: %w", err)
		}
	}
}

// Delete removes the object.
func (w *GCSWorkspace) Delete(ctx context.Context, name string) error {
	obj, err := w.object(name)
	if err != nil {
		return err
	}

	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return appstorage.ErrNotExist
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// List iterates the objects directly under the prefix.
func (w *GCSWorkspace) List(ctx context.Context) ([]appstorage.FileInfo, error) {
	query := &storage.Query{
		Prefix:    appstorage.ObjectKey(w.prefix, ""),
		Delimiter: "/",
	}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Updated"}); err != nil {
		return nil, fmt.Errorf("failed to build GCS query: %w", err)
	}

	files := make([]appstorage.FileInfo, 0)
	it := w.client.Bucket(w.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		// synthetic directory entry
		if attrs.Prefix != "" {
			continue
		}
		name, ok := appstorage.NameFromKey(w.prefix, attrs.Name)
		if !ok {
			continue
		}
		files = append(files, appstorage.FileInfo{
			Name:         name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat returns object metadata.
func (w *GCSWorkspace) Stat(ctx context.Context, name string) (*appstorage.FileInfo, error) {
	obj, err := w.object(name)
	if err != nil {
		return nil, err
	}

	attrs, err := w.attrs(ctx, obj)
	if err != nil {
		return nil, err
	}
	return &appstorage.FileInfo{
		Name:         name,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
	}, nil
}

func (w *GCSWorkspace) attrs(ctx context.Context, obj *storage.ObjectHandle) (*storage.ObjectAttrs, error) {
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get GCS object attributes: %w", err)
	}
	return attrs, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
