package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb/blobstore"
)

func keyIs(key string) any {
	return mock.MatchedBy(func(in *s3.GetObjectInput) bool { return aws.ToString(in.Key) == key })
}

func TestStoreGet(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "root/")

	client.On("GetObject", mock.Anything, keyIs("root/docs/LATEST")).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("snapshot-1.snap")),
	}, nil).Once()
	client.On("GetObject", mock.Anything, keyIs("root/docs/missing")).Return(nil, &types.NoSuchKey{}).Once()
	client.On("GetObject", mock.Anything, keyIs("root/docs/broken")).Return(nil, errors.New("boom")).Once()

	data, err := blobstore.ReadAll(context.Background(), store, "docs/LATEST")
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1.snap", string(data))

	_, err = store.Get(context.Background(), "docs/missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	_, err = store.Get(context.Background(), "docs/broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, blobstore.ErrNotFound)

	client.AssertExpectations(t)
}

func TestStorePutUsesUploader(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "root")

	var body string
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == "root/docs/collection.json"
	})).Run(func(args mock.Arguments) {
		b, _ := io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
		body = string(b)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	err := store.Put(context.Background(), "docs/collection.json", strings.NewReader(`{"name":"docs"}`), 15)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"docs"}`, body)
	client.AssertExpectations(t)
}

func TestStoreDeleteIgnoresMissing(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "")

	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "docs/a"
	})).Return(nil, &types.NoSuchKey{}).Once()

	require.NoError(t, store.Delete(context.Background(), "docs/a"))
	client.AssertExpectations(t)
}

func TestStoreListPaginates(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "root/")

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return in.ContinuationToken == nil && aws.ToString(in.Prefix) == "root/docs"
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("root/docs/snapshot-2.snap")}, {Key: aws.String("root/docs2/x")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page2"),
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page2"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{{Key: aws.String("root/docs/LATEST")}},
	}, nil).Once()

	names, err := store.List(context.Background(), "docs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/LATEST", "docs/snapshot-2.snap"}, names)
	client.AssertExpectations(t)
}
