package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the DynamoDB surface the commit store needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// CommitStore wraps an S3 Store with a DynamoDB commit log. Every Put of an
// index object records a monotonically increasing version row pointing at
// the object, so readers resolve the latest complete export even while a new
// one is uploading. S3 alone cannot give that ordering guarantee.
//
// Table schema: partition key base_uri (S), sort key version (N), attribute
// object_key (S).
type CommitStore struct {
	*Store

	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore creates a commit-logged store. baseURI is the partition key
// for this index, typically "s3://bucket/prefix".
func NewCommitStore(store *Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		Store:     store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Put uploads the object and then commits a version row for it.
func (s *CommitStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := s.Store.Put(ctx, name, r, size); err != nil {
		return err
	}
	return s.commit(ctx, name)
}

// Latest returns the object name of the newest committed export.
func (s *CommitStore) Latest(ctx context.Context) (string, error) {
	version, name, err := s.latestVersion(ctx)
	if err != nil {
		return "", err
	}
	if version == 0 {
		return "", fmt.Errorf("no committed export for %s", s.baseURI)
	}
	return name, nil
}

func (s *CommitStore) commit(ctx context.Context, name string) error {
	version, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}
	next := version + 1

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":   &types.AttributeValueMemberS{Value: s.baseURI},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"object_key": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version %d: %w", next, err)
	}

	return nil
}

func (s *CommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commit log: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in commit log")
	}
	keyAttr, ok := item["object_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid object_key attribute in commit log")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid version %q in commit log", versionAttr.Value)
	}

	return version, keyAttr.Value, nil
}
