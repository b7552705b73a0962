package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkit/docdex/blobstore"
)

// fakeClient keeps objects in a map and serves the subset of the S3 API the
// store touches.
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = data

	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeClient) UploadPart(context.Context, *awss3.UploadPartInput, ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart not supported by fake")
}

func (f *fakeClient) CreateMultipartUpload(context.Context, *awss3.CreateMultipartUploadInput, ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by fake")
}

func (f *fakeClient) CompleteMultipartUpload(context.Context, *awss3.CompleteMultipartUploadInput, ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by fake")
}

func (f *fakeClient) AbortMultipartUpload(context.Context, *awss3.AbortMultipartUploadInput, ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by fake")
}

func (f *fakeClient) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeClient) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var contents []types.Object
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			contents = append(contents, types.Object{Key: aws.String(key)})
		}
	}
	sort.Slice(contents, func(i, j int) bool {
		return aws.ToString(contents[i].Key) < aws.ToString(contents[j].Key)
	})

	return &awss3.ListObjectsV2Output{Contents: contents}, nil
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := NewStore(client, "bucket", "indexes/docs")

	content := []byte("index bytes")
	require.NoError(t, store.Put(ctx, "v1/docs.idx", bytes.NewReader(content), int64(len(content))))

	// Keys carry the root prefix.
	client.mu.Lock()
	_, ok := client.objects["indexes/docs/v1/docs.idx"]
	client.mu.Unlock()
	require.True(t, ok)

	rc, size, err := store.Open(ctx, "v1/docs.idx")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, _, err = store.Open(ctx, "v1/missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, "v1/docs.idx.metadata.json", strings.NewReader("{}"), 2))

	names, err := store.List(ctx, "v1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1/docs.idx", "v1/docs.idx.metadata.json"}, names)

	require.NoError(t, store.Delete(ctx, "v1/docs.idx"))
	_, _, err = store.Open(ctx, "v1/docs.idx")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

// fakeDDB honors the conditional write on the version sort key.
type fakeDDB struct {
	mu         sync.Mutex
	rows       map[uint64]string // version -> object_key
	afterQuery func()
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{rows: make(map[uint64]string)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	versionAttr := params.Item["version"].(*ddbtypes.AttributeValueMemberN)
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return nil, err
	}

	if _, exists := f.rows[version]; exists {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	f.rows[version] = params.Item["object_key"].(*ddbtypes.AttributeValueMemberS).Value

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.afterQuery != nil {
		defer f.afterQuery()
	}

	var latest uint64
	for version := range f.rows {
		if version > latest {
			latest = version
		}
	}
	if latest == 0 {
		return &dynamodb.QueryOutput{}, nil
	}

	uri := params.ExpressionAttributeValues[":uri"].(*ddbtypes.AttributeValueMemberS).Value

	return &dynamodb.QueryOutput{
		Items: []map[string]ddbtypes.AttributeValue{{
			"base_uri":   &ddbtypes.AttributeValueMemberS{Value: uri},
			"version":    &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(latest, 10)},
			"object_key": &ddbtypes.AttributeValueMemberS{Value: f.rows[latest]},
		}},
	}, nil
}

func TestCommitStore(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	ddb := newFakeDDB()

	store := NewCommitStore(NewStore(client, "bucket", "indexes/docs"), ddb, "docdex-commits", "s3://bucket/indexes/docs")

	_, err := store.Latest(ctx)
	require.Error(t, err)

	require.NoError(t, store.Put(ctx, "v1/docs.idx", strings.NewReader("one"), 3))

	name, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1/docs.idx", name)

	require.NoError(t, store.Put(ctx, "v2/docs.idx", strings.NewReader("two"), 3))

	name, err = store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2/docs.idx", name)
}

func TestCommitStoreConcurrentModification(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	ddb := newFakeDDB()
	ddb.rows[1] = "someone/else.idx"

	store := NewCommitStore(NewStore(client, "bucket", ""), ddb, "docdex-commits", "s3://bucket")

	// Another writer lands version 2 between our query and our conditional
	// put.
	ddb.afterQuery = func() {
		ddb.rows[2] = "someone/else.idx"
	}

	err := store.Put(ctx, "mine.idx", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, ErrConcurrentModification)
}
