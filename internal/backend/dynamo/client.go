// Package dynamo implements the Primary backend: a single-table DynamoDB
// layout where each collection lives under one partition key. The client
// owns its own resilience (circuit breaker plus bounded retry); layers
// above never retry.
package dynamo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/domain"
)

// Name identifies this backend in logs, errors, and fallback events.
const Name = "dynamodb"

// Internal attributes the client manages; they never leak into records.
const (
	attrPK         = "PK"
	attrSK         = "SK"
	attrCollection = "EntityCollection"
	attrUpdatedAt  = "UpdatedAt"
)

// Client is the KV/document backend handle over one DynamoDB table.
type Client struct {
	client     *dynamodb.Client
	table      string
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	logger     *zap.Logger
}

var _ backend.Client = (*Client)(nil)

// NewClient wraps the DynamoDB API with a circuit breaker tuned the same
// way as the HTTP breaker: trip at an 80% failure ratio once five requests
// have been observed.
func NewClient(client *dynamodb.Client, table string, logger *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return &Client{
		client:     client,
		table:      table,
		breaker:    breaker,
		maxRetries: 3,
		logger:     logger,
	}
}

func (c *Client) Kind() backend.Kind { return backend.KindPrimary }
func (c *Client) Name() string       { return Name }

func collectionPK(collection string) string { return "COLLECTION#" + collection }
func itemSK(id string) string               { return "ID#" + id }

func (c *Client) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       c.buildKey(collection, id),
	}
	var item map[string]types.AttributeValue
	err := c.call(ctx, "get", func() error {
		out, err := c.client.GetItem(ctx, input)
		if err != nil {
			return err
		}
		item = out.Item
		return nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperrors.NotFound(Name, "get", id)
	}
	return parseItem(item)
}

func (c *Client) List(ctx context.Context, collection string, opts domain.QueryOptions) ([]domain.Record, error) {
	items, err := c.query(ctx, "list", collection, opts)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := parseItem(item)
		if err != nil {
			return nil, apperrors.Operation(Name, "list", "failed to parse item", err)
		}
		records = append(records, rec)
	}
	sortRecords(records, opts.Sort)
	records = paginate(records, opts)
	return project(records, opts.Select), nil
}

func (c *Client) Count(ctx context.Context, collection string, opts domain.QueryOptions) (int64, error) {
	expr, err := buildQueryExpression(collection, opts)
	if err != nil {
		return 0, err
	}
	var total int64
	var startKey map[string]types.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(c.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			Select:                    types.SelectCount,
			ExclusiveStartKey:         startKey,
		}
		var out *dynamodb.QueryOutput
		err := c.call(ctx, "count", func() error {
			var callErr error
			out, callErr = c.client.Query(ctx, input)
			return callErr
		})
		if err != nil {
			return 0, err
		}
		total += int64(out.Count)
		if out.LastEvaluatedKey == nil {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (c *Client) Insert(ctx context.Context, collection string, record domain.Record) (domain.Record, error) {
	id := record.ID()
	if id == "" {
		return nil, apperrors.Validation("insert", "record is missing an id")
	}
	item, err := buildItem(collection, id, record)
	if err != nil {
		return nil, apperrors.Validation("insert", err.Error())
	}
	cond := expression.AttributeNotExists(expression.Name(attrSK))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, apperrors.Operation(Name, "insert", "failed to build expression", err)
	}
	input := &dynamodb.PutItemInput{
		TableName:                 aws.String(c.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	err = c.call(ctx, "insert", func() error {
		_, callErr := c.client.PutItem(ctx, input)
		return callErr
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, apperrors.Operation(Name, "insert", fmt.Sprintf("record %q already exists", id), err)
		}
		return nil, err
	}
	return parseItem(item)
}

func (c *Client) Update(ctx context.Context, collection, id string, partial domain.Record) (domain.Record, error) {
	if len(partial) == 0 {
		return nil, apperrors.Validation("update", "empty partial update")
	}
	update := expression.Set(expression.Name(attrUpdatedAt), expression.Value(time.Now().Format(time.RFC3339)))
	for field, value := range partial {
		if field == "id" {
			continue
		}
		update = update.Set(expression.Name(field), expression.Value(value))
	}
	cond := expression.AttributeExists(expression.Name(attrSK))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return nil, apperrors.Operation(Name, "update", "failed to build expression", err)
	}
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.table),
		Key:                       c.buildKey(collection, id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}
	var out *dynamodb.UpdateItemOutput
	err = c.call(ctx, "update", func() error {
		var callErr error
		out, callErr = c.client.UpdateItem(ctx, input)
		return callErr
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, apperrors.NotFound(Name, "update", id)
		}
		return nil, err
	}
	return parseItem(out.Attributes)
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	cond := expression.AttributeExists(expression.Name(attrSK))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return apperrors.Operation(Name, "delete", "failed to build expression", err)
	}
	input := &dynamodb.DeleteItemInput{
		TableName:                 aws.String(c.table),
		Key:                       c.buildKey(collection, id),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	err = c.call(ctx, "delete", func() error {
		_, callErr := c.client.DeleteItem(ctx, input)
		return callErr
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return apperrors.NotFound(Name, "delete", id)
		}
		return err
	}
	return nil
}

// RawQuery runs a PartiQL statement untouched.
func (c *Client) RawQuery(ctx context.Context, query string, params ...any) ([]domain.Record, error) {
	values := make([]types.AttributeValue, len(params))
	for i, p := range params {
		av, err := attributevalue.Marshal(p)
		if err != nil {
			return nil, apperrors.Validation("rawQuery", fmt.Sprintf("parameter %d is not encodable: %v", i, err))
		}
		values[i] = av
	}
	input := &dynamodb.ExecuteStatementInput{
		Statement: aws.String(query),
	}
	if len(values) > 0 {
		input.Parameters = values
	}
	var items []map[string]types.AttributeValue
	err := c.call(ctx, "rawQuery", func() error {
		out, callErr := c.client.ExecuteStatement(ctx, input)
		if callErr != nil {
			return callErr
		}
		items = out.Items
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := parseItem(item)
		if err != nil {
			return nil, apperrors.Operation(Name, "rawQuery", "failed to parse item", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// query pages through the collection partition. Page-based pagination is
// resolved client-side after the sort; cursor pagination resumes from the
// encoded LastEvaluatedKey.
func (c *Client) query(ctx context.Context, operation, collection string, opts domain.QueryOptions) ([]map[string]types.AttributeValue, error) {
	expr, err := buildQueryExpression(collection, opts)
	if err != nil {
		return nil, err
	}
	startKey, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}

	var items []map[string]types.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(c.table),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		}
		var out *dynamodb.QueryOutput
		err := c.call(ctx, operation, func() error {
			var callErr error
			out, callErr = c.client.Query(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		if opts.PageSize > 0 && len(items) >= opts.Offset()+opts.PageSize {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func buildQueryExpression(collection string, opts domain.QueryOptions) (expression.Expression, error) {
	keyCond := expression.Key(attrPK).Equal(expression.Value(collectionPK(collection)))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)

	filter, err := translateFilters(opts.Filters)
	if err != nil {
		return expression.Expression{}, err
	}
	if filter != nil {
		builder = builder.WithFilter(*filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return expression.Expression{}, apperrors.Operation(Name, "translate", "failed to build expression", err)
	}
	return expr, nil
}

// call routes one AWS round trip through the circuit breaker and a bounded
// exponential retry. Fatal classifications stop the retry immediately; an
// open breaker surfaces as a connection error so the coordinator can fall
// back.
func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	attempt := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}
		classified := c.classify(operation, err)
		if !apperrors.IsRecoverable(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}
	return backoff.Retry(attempt, policy)
}

// classify maps AWS SDK errors onto the layer taxonomy. A missing table is
// a "not configured" condition, which is recoverable: the coordinator may
// route the call to the relational store.
func (c *Client) classify(operation string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.Connection(Name, operation, "circuit breaker open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout(Name, operation, err)
	case errors.Is(err, context.Canceled):
		return apperrors.Connection(Name, operation, "operation canceled", err)
	}

	var (
		notFound   *types.ResourceNotFoundException
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		condFailed *types.ConditionalCheckFailedException
		validation *types.TransactionCanceledException
	)
	switch {
	case errors.As(err, &notFound):
		return apperrors.Connection(Name, operation, "backend not configured: table missing", err)
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal):
		return apperrors.Connection(Name, operation, err.Error(), err)
	case errors.As(err, &condFailed):
		// Callers inspect the cause to distinguish conflict vs missing row.
		return apperrors.Operation(Name, operation, "conditional check failed", err)
	case errors.As(err, &validation):
		return apperrors.Operation(Name, operation, err.Error(), err)
	}

	// Client-fault errors without a typed model in the SDK (for example
	// ValidationException on an oversized item or a malformed update) are
	// the backend rejecting the request, not a transport problem; they must
	// not route the call to the relational store.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultClient || apiErr.ErrorCode() == "ValidationException" {
			return apperrors.Operation(Name, operation, apiErr.ErrorMessage(), err)
		}
	}
	return apperrors.Connection(Name, operation, err.Error(), err)
}

func (c *Client) buildKey(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: collectionPK(collection)},
		attrSK: &types.AttributeValueMemberS{Value: itemSK(id)},
	}
}

func buildItem(collection, id string, record domain.Record) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(record))
	if err != nil {
		return nil, fmt.Errorf("record is not encodable: %w", err)
	}
	item[attrPK] = &types.AttributeValueMemberS{Value: collectionPK(collection)}
	item[attrSK] = &types.AttributeValueMemberS{Value: itemSK(id)}
	item[attrCollection] = &types.AttributeValueMemberS{Value: collection}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)}
	return item, nil
}

func parseItem(item map[string]types.AttributeValue) (domain.Record, error) {
	var rec domain.Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, err
	}
	delete(rec, attrPK)
	delete(rec, attrSK)
	delete(rec, attrCollection)
	delete(rec, attrUpdatedAt)
	return rec, nil
}

// sortRecords orders in memory: the single-table layout has no per-column
// sort key, and collections small enough for the dashboard fit a page.
func sortRecords(records []domain.Record, fields []domain.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, f := range fields {
			cmp := compareValues(records[i][f.Column], records[j][f.Column])
			if cmp == 0 {
				continue
			}
			if f.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func paginate(records []domain.Record, opts domain.QueryOptions) []domain.Record {
	if opts.PageSize <= 0 {
		return records
	}
	start := opts.Offset()
	if start >= len(records) {
		return nil
	}
	end := start + opts.PageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

func project(records []domain.Record, fields []string) []domain.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		slim := domain.Record{"id": rec["id"]}
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				slim[f] = v
			}
		}
		out[i] = slim
	}
	return out
}

// Cursors encode a DynamoDB LastEvaluatedKey; both key attributes are
// strings in this layout.
func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, apperrors.Validation("translate", "malformed cursor")
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, apperrors.Validation("translate", "malformed cursor")
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for k, v := range plain {
		key[k] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}
