package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/vecdb/blobstore"
)

// DDBClient is the subset of the DynamoDB API used by CommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when another writer committed the same pointer version first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// CommitStore is an S3 store whose LATEST pointers are versioned in DynamoDB.
//
// Every pointer update inserts version n+1 with a conditional write, so
// concurrent archivers of one collection cannot both win. Reads of LATEST are
// served from the newest DynamoDB version; a copy is kept in S3 for listing.
//
// Table schema:
//
//	aws dynamodb create-table \
//	  --table-name vecdb-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	*Store
	ddb     DDBClient
	table   string
	baseURI string
}

// NewCommitStore wraps store. baseURI (for example "s3://bucket/prefix")
// namespaces the partition keys.
func NewCommitStore(store *Store, ddb DDBClient, table, baseURI string) *CommitStore {
	return &CommitStore{
		Store:   store,
		ddb:     ddb,
		table:   table,
		baseURI: strings.TrimSuffix(baseURI, "/"),
	}
}

func isPointer(name string) bool {
	return path.Base(name) == blobstore.LatestName
}

func (s *CommitStore) partition(name string) string {
	return s.baseURI + "/" + path.Dir(name)
}

func (s *CommitStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if !isPointer(name) {
		return s.Store.Put(ctx, name, r, size)
	}

	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return err
	}
	target := string(data)

	version, _, err := s.latest(ctx, s.partition(name))
	if err != nil {
		return err
	}
	if err := s.commit(ctx, s.partition(name), version+1, target); err != nil {
		return err
	}
	return s.Store.Put(ctx, name, strings.NewReader(target), int64(len(target)))
}

func (s *CommitStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if !isPointer(name) {
		return s.Store.Get(ctx, name)
	}
	version, target, err := s.latest(ctx, s.partition(name))
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(target)), nil
}

func (s *CommitStore) Delete(ctx context.Context, name string) error {
	if isPointer(name) {
		if err := s.deleteVersions(ctx, s.partition(name)); err != nil {
			return err
		}
	}
	return s.Store.Delete(ctx, name)
}

func (s *CommitStore) latest(ctx context.Context, partition string) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: partition},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}
	return parseItem(resp.Items[0])
}

func parseItem(item map[string]types.AttributeValue) (uint64, string, error) {
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit item without version")
	}
	targetAttr, ok := item["target"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit item without target")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, targetAttr.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, partition string, version uint64, target string) error {
	_, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: partition},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("%w: %s version %d", ErrConcurrentModification, partition, version)
		}
		return fmt.Errorf("s3: commit pointer: %w", err)
	}
	return nil
}

func (s *CommitStore) deleteVersions(ctx context.Context, partition string) error {
	paginator := dynamodb.NewQueryPaginator(s.ddb, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: partition},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: query commits: %w", err)
		}
		for _, item := range page.Items {
			_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.table),
				Key: map[string]types.AttributeValue{
					"base_uri": item["base_uri"],
					"version":  item["version"],
				},
			})
			if err != nil {
				return fmt.Errorf("s3: delete commit: %w", err)
			}
		}
	}
	return nil
}
