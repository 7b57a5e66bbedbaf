// Package s3 implements storage.Driver on top of an S3-compatible bucket.
// Each tenant owns the key prefix produced by Config.TenantPrefix.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

const (
	// maxKeysPerCall is the S3 ceiling for both ListObjectsV2 and DeleteObjects.
	maxKeysPerCall       = 1000
	defaultTenantPrefix  = "teams/%d"
	noSuchKeyCode        = "NoSuchKey"
	defaultRegion        = "us-east-1"
	directoryPlaceholder = "/"
)

// Config configures the bucket connection.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// TenantPrefix is a fmt pattern receiving the tenant id, e.g. "teams/%d".
	TenantPrefix string
}

// API is the subset of the S3 client the driver calls.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type S3Driver struct {
	client       API
	bucket       string
	tenantPrefix string
}

func New(ctx context.Context, cfg Config) (*S3Driver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not set")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.TenantPrefix), nil
}

// NewWithClient builds a driver around an existing client.
func NewWithClient(client API, bucket, tenantPrefix string) *S3Driver {
	if tenantPrefix == "" {
		tenantPrefix = defaultTenantPrefix
	}
	return &S3Driver{client: client, bucket: bucket, tenantPrefix: strings.TrimSuffix(tenantPrefix, "/")}
}

func (d *S3Driver) root(tenantID int64) string {
	return fmt.Sprintf(d.tenantPrefix, tenantID) + "/"
}

func (d *S3Driver) key(tenantID int64, p string) string {
	return d.root(tenantID) + strings.TrimPrefix(p, "/")
}

func (d *S3Driver) entryPath(tenantID int64, key string) string {
	return "/" + strings.TrimPrefix(key, d.root(tenantID))
}

// ListPage lists one page of keys under req.Path. Pages hold at most 1000
// keys regardless of req.Limit.
func (d *S3Driver) ListPage(ctx context.Context, tenantID int64, req storage.ListRequest) (storage.ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.key(tenantID, req.Path)),
	}
	if req.Limit > 0 {
		input.MaxKeys = aws.Int32(int32(min(req.Limit, maxKeysPerCall)))
	}
	if !req.Recursive {
		input.Delimiter = aws.String(directoryPlaceholder)
	}
	if req.Cursor != "" {
		after, err := storage.DecodeCursor(req.Cursor)
		if err != nil {
			return storage.ListPage{}, err
		}
		input.StartAfter = aws.String(d.key(tenantID, after))
	}

	out, err := d.client.ListObjectsV2(ctx, input)
	if err != nil {
		return storage.ListPage{}, wrapError("ListObjectsV2", req.Path, err)
	}

	var page storage.ListPage
	if req.IncludeFiles {
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			entry := storage.FileEntry{
				Path: d.entryPath(tenantID, key),
				Name: path.Base(key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				entry.LastModified = *obj.LastModified
			}
			page.Entries = append(page.Entries, entry)
		}
	}
	if req.IncludeFolders {
		for _, prefix := range out.CommonPrefixes {
			key := aws.ToString(prefix.Prefix)
			page.Entries = append(page.Entries, storage.FileEntry{
				Path:  d.entryPath(tenantID, key),
				Name:  path.Base(key),
				IsDir: true,
			})
		}
		sort.Slice(page.Entries, func(i, j int) bool { return page.Entries[i].Path < page.Entries[j].Path })
	}

	if aws.ToBool(out.IsTruncated) {
		page.NextCursor = storage.CursorAfter(d.entryPath(tenantID, lastKey(out)))
	}
	return page, nil
}

func lastKey(out *s3.ListObjectsV2Output) string {
	last := ""
	if n := len(out.Contents); n > 0 {
		last = aws.ToString(out.Contents[n-1].Key)
	}
	if n := len(out.CommonPrefixes); n > 0 {
		if p := aws.ToString(out.CommonPrefixes[n-1].Prefix); p > last {
			last = p
		}
	}
	return last
}

// IsOnAgent is always false: buckets are never agent-mounted.
func (d *S3Driver) IsOnAgent(string) bool {
	return false
}

// RemoveBatch deletes keys with DeleteObjects, 1000 keys per call. Keys that
// are already gone are ignored.
func (d *S3Driver) RemoveBatch(ctx context.Context, tenantID int64, paths []string) error {
	for start := 0; start < len(paths); start += maxKeysPerCall {
		end := min(start+maxKeysPerCall, len(paths))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, p := range paths[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(d.key(tenantID, p))})
		}

		out, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			wrapped := wrapError("DeleteObjects", paths[start], err)
			if errors.Is(wrapped, storage.ErrNotFound) {
				continue
			}
			return wrapped
		}

		for _, failed := range out.Errors {
			if aws.ToString(failed.Code) == noSuchKeyCode {
				continue
			}
			return &storage.RemoteError{
				Op:   "DeleteObjects",
				Path: d.entryPath(tenantID, aws.ToString(failed.Key)),
				Err:  fmt.Errorf("%s: %s", aws.ToString(failed.Code), aws.ToString(failed.Message)),
			}
		}
	}
	return nil
}

func wrapError(op, p string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return &storage.RemoteError{Op: op, Path: p, StatusCode: http.StatusNotFound, Err: storage.ErrNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == noSuchKeyCode {
		return &storage.RemoteError{Op: op, Path: p, Err: storage.ErrNotFound}
	}

	status := 0
	if respErr != nil {
		status = respErr.HTTPStatusCode()
	}
	return &storage.RemoteError{Op: op, Path: p, StatusCode: status, Err: err}
}
