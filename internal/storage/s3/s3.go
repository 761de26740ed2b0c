// Package s3 implements the workspace backend on AWS S3 and S3-compatible
// services (MinIO, Ceph RGW) via a configurable endpoint. Each workspace file
// is one object under an optional key prefix. Authentication supports the
// default AWS credential chain, static keys, and AssumeRole for cross-account
// buckets.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	appconfig "github.com/opsconsole/opsconsole/internal/config"
	"github.com/opsconsole/opsconsole/internal/storage"
)

// maxWriteAttempts bounds the conditional overwrite loop in Write.
const maxWriteAttempts = 3

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Workspace, error) {
		return New(&cfg.Workspace.S3)
	})
}

// S3Workspace implements storage.Workspace on an S3 bucket
type S3Workspace struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates the S3 backend.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env vars, shared config, IAM role, IMDS)
//   - "static": explicit access key and secret key
//   - "assume_role": assumes an IAM role, optionally with an external ID
func New(cfg *appconfig.S3StorageConfig) (*S3Workspace, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "assume_role":
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth")
		}
	case "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if authMethod == "assume_role" {
		var assumeRoleOpts []func(*stscreds.AssumeRoleOptions)
		if cfg.RoleSessionName != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = cfg.RoleSessionName
			})
		}
		if cfg.ExternalID != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.ExternalID = aws.String(cfg.ExternalID)
			})
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, assumeRoleOpts...)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Workspace{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (w *S3Workspace) key(name string) (string, error) {
	if err := storage.ValidateName(name); err != nil {
		return "", err
	}
	return storage.ObjectKey(w.prefix, name), nil
}

// Create puts an empty object with If-None-Match: *, so the store itself
// rejects a second creator.
func (w *S3Workspace) Create(ctx context.Context, name string) error {
	key, err := w.key(name)
	if err != nil {
		return err
	}

	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return storage.ErrExist
		}
		return fmt.Errorf("failed to create object in S3: %w", err)
	}
	return nil
}

// Read downloads the object content.
func (w *S3Workspace) Read(ctx context.Context, name string) ([]byte, error) {
	key, err := w.key(name)
	if err != nil {
		return nil, err
	}

	out, err := w.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}
	return data, nil
}

// Write overwrites an existing object. The put is conditional on the ETag
// seen by a preceding HEAD, so an object deleted in between is not
// resurrected; a concurrent overwrite triggers a retry and the last writer wins.
func (w *S3Workspace) Write(ctx context.Context, name string, content []byte) error {
	key, err := w.key(name)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		head, err := w.head(ctx, key)
		if err != nil {
			return err
		}

		_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			IfMatch:       head.ETag,
		})
		if err == nil {
			return nil
		}
		if isNotFound(err) {
			return storage.ErrNotExist
		}
		if !isPreconditionFailed(err) || attempt >= maxWriteAttempts {
			return fmt.Errorf("failed to upload to S3: %w", err)
		}
	}
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotExist.
func (w *S3Workspace) Delete(ctx context.Context, name string) error {
	key, err := w.key(name)
	if err != nil {
		return err
	}

	if _, err := w.head(ctx, key); err != nil {
		return err
	}

	_, err = w.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List pages through the objects directly under the prefix.
func (w *S3Workspace) List(ctx context.Context) ([]storage.FileInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(w.bucket),
		Delimiter: aws.String("/"),
	}
	if p := storage.ObjectKey(w.prefix, ""); p != "" {
		input.Prefix = aws.String(p)
	}

	files := make([]storage.FileInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(w.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name, ok := storage.NameFromKey(w.prefix, aws.ToString(obj.Key))
			if !ok {
				continue
			}
			files = append(files, storage.FileInfo{
				Name:         name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Stat returns object metadata.
func (w *S3Workspace) Stat(ctx context.Context, name string) (*storage.FileInfo, error) {
	key, err := w.key(name)
	if err != nil {
		return nil, err
	}

	head, err := w.head(ctx, key)
	if err != nil {
		return nil, err
	}
	return &storage.FileInfo{
		Name:         name,
		Size:         aws.ToInt64(head.ContentLength),
		LastModified: aws.ToTime(head.LastModified),
	}, nil
}

func (w *S3Workspace) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return out, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// isPreconditionFailed recognizes a failed If-Match / If-None-Match. S3 may
// also answer 409 ConditionalRequestConflict while a competing conditional
// write is in flight.
func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusPreconditionFailed
}
