package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	sessionPrefix    = "SESSION#"
	clientPrefix     = "CLIENT#"
	skMeta           = "META"
	skSubmission     = "SUBMISSION#"
	skJob            = "JOB#"
	attrExpiresAt    = "expiresAt"
	attrPartitionKey = "PK"
	attrSortKey      = "SK"
)

// API is the subset of *dynamodb.Client used here.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements SessionStore and Ledger on one table.
type DynamoStore struct {
	client    API
	tableName string
	now       func() time.Time
}

var (
	_ SessionStore = (*DynamoStore)(nil)
	_ Ledger       = (*DynamoStore)(nil)
)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client API, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func sessionPK(sessionID string) string {
	return sessionPrefix + sessionID
}

func clientPK(client string) string {
	if client == "" {
		client = UnassignedClient
	}
	return clientPrefix + client
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartitionKey: &types.AttributeValueMemberS{Value: pk},
		attrSortKey:      &types.AttributeValueMemberS{Value: sk},
	}
}

// putItem marshals a record and writes it with PK, SK and TTL. Fields derived
// from the keys use dynamodbav:"-".
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item[attrPartitionKey] = &types.AttributeValueMemberS{Value: pk}
	item[attrSortKey] = &types.AttributeValueMemberS{Value: sk}
	item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(ttl).Unix(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads one item into out. It returns false when the item is absent.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryPrefix returns every item under pk whose SK begins with skPrefix,
// following LastEvaluatedKey across pages.
func (s *DynamoStore) queryPrefix(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		items = append(items, result.Items...)
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return items, nil
}

// --- Session context ---

func (s *DynamoStore) PutSession(ctx context.Context, session *Session) error {
	now := s.now().Unix()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	if err := s.putItem(ctx, sessionPK(session.ID), skMeta, session, SessionTTL); err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}
	log.Debug().Str("sessionId", session.ID).Str("video", session.SelectedVideo).Msg("Session persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	found, err := s.getItem(ctx, sessionPK(sessionID), skMeta, &session)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}
	session.ID = sessionID
	return &session, nil
}

// RecordSubmission stores the last submitted job on the session without
// overwriting the drawing state.
func (s *DynamoStore) RecordSubmission(ctx context.Context, sessionID, jobName string, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              keyOf(sessionPK(sessionID), skMeta),
		UpdateExpression: aws.String("SET lastJobName = :j, lastJobAt = :t, updatedAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":j": &types.AttributeValueMemberS{Value: jobName},
			":t": &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("record submission %s -> %s: %w", sessionID, jobName, err)
	}
	log.Debug().Str("sessionId", sessionID).Str("jobName", jobName).Msg("Session submission recorded")
	return nil
}

// --- Ledger ---

func (s *DynamoStore) PutSubmission(ctx context.Context, sub *Submission) error {
	if sub.UploadedAt == 0 {
		sub.UploadedAt = s.now().Unix()
	}
	if err := s.putItem(ctx, clientPK(sub.Client), skSubmission+sub.InputKey, sub, LedgerTTL); err != nil {
		return fmt.Errorf("put submission %s: %w", sub.InputKey, err)
	}
	log.Debug().Str("client", sub.Client).Str("inputKey", sub.InputKey).Msg("Submission recorded")
	return nil
}

func (s *DynamoStore) PutJob(ctx context.Context, job *JobRecord) error {
	if job.CreatedAt == 0 {
		job.CreatedAt = s.now().Unix()
	}
	if err := s.putItem(ctx, clientPK(job.Client), skJob+job.JobName, job, LedgerTTL); err != nil {
		return fmt.Errorf("put job %s: %w", job.JobName, err)
	}
	log.Debug().Str("client", job.Client).Str("jobName", job.JobName).Msg("Job recorded in ledger")
	return nil
}

// ListJobs returns every ledger job for client, oldest first.
func (s *DynamoStore) ListJobs(ctx context.Context, client string) ([]JobRecord, error) {
	items, err := s.queryPrefix(ctx, clientPK(client), skJob)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", client, err)
	}
	jobs := make([]JobRecord, 0, len(items))
	for _, item := range items {
		var j JobRecord
		if err := attributevalue.UnmarshalMap(item, &j); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		j.Client = client
		if j.JobName == "" {
			j.JobName = strings.TrimPrefix(skValue(item), skJob)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// JobNamesForClient returns the set of job names attributed to client.
func (s *DynamoStore) JobNamesForClient(ctx context.Context, client string) (map[string]bool, error) {
	items, err := s.queryPrefix(ctx, clientPK(client), skJob)
	if err != nil {
		return nil, fmt.Errorf("job names for %s: %w", client, err)
	}
	names := make(map[string]bool, len(items))
	for _, item := range items {
		if name := strings.TrimPrefix(skValue(item), skJob); name != "" {
			names[name] = true
		}
	}
	return names, nil
}

func skValue(item map[string]types.AttributeValue) string {
	if v, ok := item[attrSortKey].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
