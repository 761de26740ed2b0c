// Package azure implements the workspace backend on Azure Blob Storage. Each
// workspace file is one block blob under an optional prefix in a single
// container. Create and overwrite are single conditional PUTs (If-None-Match: *
// and If-Match: *), so the service decides existence atomically.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Workspace, error) {
		return New(&cfg.Workspace.Azure)
	})
}

// AzureWorkspace implements storage.Workspace for Azure Blob Storage
type AzureWorkspace struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// New creates a new Azure Blob Storage backend using shared key auth.
func New(cfg *config.AzureStorageConfig) (*AzureWorkspace, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureWorkspace{
		client:        client,
		containerName: cfg.ContainerName,
		prefix:        cfg.Prefix,
	}, nil
}

func (w *AzureWorkspace) containerClient() *container.Client {
	return w.client.ServiceClient().NewContainerClient(w.containerName)
}

func (w *AzureWorkspace) blockBlob(name string) (*blockblob.Client, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	return w.containerClient().NewBlockBlobClient(storage.ObjectKey(w.prefix, name)), nil
}

func (w *AzureWorkspace) upload(ctx context.Context, bb *blockblob.Client, content []byte, cond *blob.ModifiedAccessConditions) error {
	_, err := bb.Upload(ctx, streaming.NopCloser(bytes.NewReader(content)), &blockblob.UploadOptions{
		AccessConditions: &blob.AccessConditions{ModifiedAccessConditions: cond},
	})
	return err
}

// Create uploads an empty blob with If-None-Match: *.
func (w *AzureWorkspace) Create(ctx context.Context, name string) error {
	bb, err := w.blockBlob(name)
	if err != nil {
		return err
	}

	err = w.upload(ctx, bb, nil, &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return storage.ErrExist
		}
		return fmt.Errorf("failed to create Azure blob: %w", err)
	}
	return nil
}

// Read downloads the blob content.
func (w *AzureWorkspace) Read(ctx context.Context, name string) ([]byte, error) {
	bb, err := w.blockBlob(name)
	if err != nil {
		return nil, err
	}

	resp, err := bb.DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read Azure blob: %w", err)
	}
	return data, nil
}

// Write replaces an existing blob. If-Match: * makes the service reject the
// upload when the blob is absent.
func (w *AzureWorkspace) Write(ctx context.Context, name string, content []byte) error {
	bb, err := w.blockBlob(name)
	if err != nil {
		return err
	}

	err = w.upload(ctx, bb, content, &blob.ModifiedAccessConditions{IfMatch: to.Ptr(azcore.ETagAny)})
	if err != nil {
		if isNotFound(err) || bloberror.HasCode(err, bloberror.ConditionNotMet) {
			return storage.ErrNotExist
		}
		return fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}
	return nil
}

// Delete removes the blob.
func (w *AzureWorkspace) Delete(ctx context.Context, name string) error {
	bb, err := w.blockBlob(name)
	if err != nil {
		return err
	}

	if _, err := bb.Delete(ctx, nil); err != nil {
		if isNotFound(err) {
			return storage.ErrNotExist
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// List pages through the blobs directly under the prefix.
func (w *AzureWorkspace) List(ctx context.Context) ([]storage.FileInfo, error) {
	opts := &container.ListBlobsHierarchyOptions{}
	if p := storage.ObjectKey(w.prefix, ""); p != "" {
		opts.Prefix = to.Ptr(p)
	}

	files := make([]storage.FileInfo, 0)
	pager := w.containerClient().NewListBlobsHierarchyPager("/", opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list Azure blobs: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name, ok := storage.NameFromKey(w.prefix, *item.Name)
			if !ok {
				continue
			}
			fi := storage.FileInfo{Name: name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					fi.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					fi.LastModified = *item.Properties.LastModified
				}
			}
			files = append(files, fi)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat returns blob properties.
func (w *AzureWorkspace) Stat(ctx context.Context, name string) (*storage.FileInfo, error) {
	bb, err := w.blockBlob(name)
	if err != nil {
		return nil, err
	}

	props, err := bb.GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	info := &storage.FileInfo{Name: name}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
