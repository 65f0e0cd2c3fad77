package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ignite/campaign-journeys/internal/domain"
)

// runTTL bounds how long index rows live in DynamoDB.
const runTTL = 365 * 24 * time.Hour

// s3API is the subset of the S3 client the archive uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// dynamoAPI is the subset of the DynamoDB client the run index uses.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AWSArchive holds the S3 and DynamoDB clients behind the archive.
type AWSArchive struct {
	s3Client  s3API
	dynamoDB  dynamoAPI
	bucket    string
	tableName string
}

// RunItem is one row of the DynamoDB run index.
type RunItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	RunRecord
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// NewAWSArchive creates AWS clients from the default credential chain.
func NewAWSArchive(ctx context.Context, bucket, tableName, region, profile string) (*AWSArchive, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWSArchive{
		s3Client:  s3.NewFromConfig(cfg),
		dynamoDB:  dynamodb.NewFromConfig(cfg),
		bucket:    bucket,
		tableName: tableName,
	}, nil
}

func (a *AWSArchive) blobs() blobStore {
	return &s3Store{client: a.s3Client, bucket: a.bucket}
}

func (a *AWSArchive) index() runIndex {
	return &dynamoIndex{client: a.dynamoDB, table: a.tableName}
}

type s3Store struct {
	client s3API
	bucket string
}

func (s *s3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("snapshot %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}
	return data, nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

type dynamoIndex struct {
	client dynamoAPI
	table  string
}

func runPK(projectID string) string {
	return "PROJECT#" + projectID
}

func (d *dynamoIndex) PutRun(ctx context.Context, r RunRecord) error {
	item := RunItem{
		PK:        runPK(r.ProjectID),
		SK:        r.CompletedAt.UTC().Format(keyTimeLayout),
		RunRecord: r,
		TTL:       r.CompletedAt.Add(runTTL).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

func (d *dynamoIndex) ListRuns(ctx context.Context, projectID string, limit int) ([]RunRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: runPK(projectID)},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	result, err := d.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	runs := make([]RunRecord, 0, len(result.Items))
	for _, av := range result.Items {
		var item RunItem
		if err := attributevalue.UnmarshalMap(av, &item); err != nil {
			continue
		}
		runs = append(runs, item.RunRecord)
	}
	return runs, nil
}
