package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bit2swaz/storage-janitor/pkg/storage"
)

type fakeAPI struct {
	listInputs   []*s3.ListObjectsV2Input
	listOutput   *s3.ListObjectsV2Output
	deleteInputs []*s3.DeleteObjectsInput
	deleteOutput *s3.DeleteObjectsOutput
	deleteErr    error
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listInputs = append(f.listInputs, in)
	return f.listOutput, nil
}

func (f *fakeAPI) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.deleteInputs = append(f.deleteInputs, in)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	if f.deleteOutput != nil {
		return f.deleteOutput, nil
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestListPageBuildsInputAndCursor(t *testing.T) {
	modified := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{listOutput: &s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("teams/7/import/a.txt"), LastModified: &modified, Size: aws.Int64(3)},
			{Key: aws.String("teams/7/import/b.txt"), LastModified: &modified, Size: aws.Int64(4)},
		},
		IsTruncated: aws.Bool(true),
	}}
	driver := NewWithClient(api, "bucket", "")

	page, err := driver.ListPage(context.Background(), 7, storage.ListRequest{
		Path:         "/import/",
		Recursive:    true,
		IncludeFiles: true,
		Limit:        20000,
		Cursor:       storage.CursorAfter("/import/0.txt"),
	})
	require.NoError(t, err)

	require.Len(t, api.listInputs, 1)
	in := api.listInputs[0]
	assert.Equal(t, "teams/7/import/", aws.ToString(in.Prefix))
	assert.Equal(t, int32(1000), aws.ToInt32(in.MaxKeys))
	assert.Equal(t, "teams/7/import/0.txt", aws.ToString(in.StartAfter))
	assert.Nil(t, in.Delimiter)

	require.Len(t, page.Entries, 2)
	assert.Equal(t, "/import/a.txt", page.Entries[0].Path)
	assert.Equal(t, "a.txt", page.Entries[0].Name)
	assert.Equal(t, modified, page.Entries[0].LastModified)

	after, err := storage.DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "/import/b.txt", after)
}

func TestListPageNonRecursiveFolders(t *testing.T) {
	api := &fakeAPI{listOutput: &s3.ListObjectsV2Output{
		CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("teams/1/offline-sessions/42/")}},
	}}
	driver := NewWithClient(api, "bucket", "teams/%d/")

	page, err := driver.ListPage(context.Background(), 1, storage.ListRequest{Path: "/offline-sessions/", IncludeFolders: true})
	require.NoError(t, err)

	assert.Equal(t, "/", aws.ToString(api.listInputs[0].Delimiter))
	require.Len(t, page.Entries, 1)
	assert.True(t, page.Entries[0].IsDir)
	assert.Equal(t, "/offline-sessions/42/", page.Entries[0].Path)
	assert.Empty(t, page.NextCursor)
}

func TestRemoveBatchChunksAndIgnoresMissingKeys(t *testing.T) {
	api := &fakeAPI{deleteOutput: &s3.DeleteObjectsOutput{
		Errors: []types.Error{{Key: aws.String("teams/2/x"), Code: aws.String("NoSuchKey")}},
	}}
	driver := NewWithClient(api, "bucket", "")

	paths := make([]string, 2500)
	for i := range paths {
		paths[i] = fmt.Sprintf("/tmp/%04d", i)
	}
	require.NoError(t, driver.RemoveBatch(context.Background(), 2, paths))

	require.Len(t, api.deleteInputs, 3)
	assert.Len(t, api.deleteInputs[0].Delete.Objects, 1000)
	assert.Len(t, api.deleteInputs[2].Delete.Objects, 500)
	assert.Equal(t, "teams/2/tmp/0000", aws.ToString(api.deleteInputs[0].Delete.Objects[0].Key))
}

func TestRemoveBatchReportsOtherFailures(t *testing.T) {
	api := &fakeAPI{deleteOutput: &s3.DeleteObjectsOutput{
		Errors: []types.Error{{Key: aws.String("teams/2/x"), Code: aws.String("AccessDenied"), Message: aws.String("denied")}},
	}}
	driver := NewWithClient(api, "bucket", "")

	err := driver.RemoveBatch(context.Background(), 2, []string{"/x"})
	var remoteErr *storage.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "/x", remoteErr.Path)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestRemoveBatchTransportError(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("connection reset")}
	driver := NewWithClient(api, "bucket", "")

	err := driver.RemoveBatch(context.Background(), 2, []string{"/x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestS3IntegrationWithMinIO(t *testing.T) {
	endpoint := os.Getenv("LOCAL_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("LOCAL_S3_ENDPOINT not set; skipping MinIO integration test")
	}
	accessKey := os.Getenv("S3_ACCESS_KEY_ID")
	secretKey := os.Getenv("S3_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		t.Skip("S3_ACCESS_KEY_ID or S3_SECRET_ACCESS_KEY not set; skipping MinIO integration test")
	}

	bucket := os.Getenv("LOCAL_S3_BUCKET")
	if bucket == "" {
		bucket = "storage-janitor-integration"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(defaultRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})
	require.NoError(t, ensureBucket(ctx, client, bucket))

	tenantID := time.Now().UnixNano() % 1_000_000
	uploader := manager.NewUploader(client)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(fmt.Sprintf("teams/%d/import/%s", tenantID, name)),
			Body:   bytes.NewReader([]byte(name)),
		})
		require.NoError(t, err)
	}

	driver, err := New(ctx, Config{
		Bucket:          bucket,
		Endpoint:        endpoint,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	req := storage.ListRequest{Path: "/import/", Recursive: true, IncludeFiles: true, Limit: 2}
	first, err := driver.ListPage(ctx, tenantID, req)
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.NotEmpty(t, first.NextCursor)

	req.Cursor = first.NextCursor
	second, err := driver.ListPage(ctx, tenantID, req)
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	assert.Equal(t, "/import/c.txt", second.Entries[0].Path)

	all := []string{"/import/a.txt", "/import/b.txt", "/import/c.txt", "/import/missing.txt"}
	require.NoError(t, driver.RemoveBatch(ctx, tenantID, all))

	req.Cursor = ""
	empty, err := driver.ListPage(ctx, tenantID, req)
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
}

func ensureBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}

	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &exists) || errors.As(err, &owned) {
		return nil
	}

	return fmt.Errorf("create bucket %s: %w", bucket, err)
}
