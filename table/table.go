// Package table is a thin client over the DynamoDB operations a blob table needs.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Attribute names of a blob row.
const (
	KeyAttr    = "Key"
	HeaderAttr = "Header"
	MetaAttr   = "Meta"
	ValueAttr  = "Value"
)

// MaxBatchItems is the DynamoDB limit on items per TransactWriteItems and
// keys per BatchGetItem request.
const MaxBatchItems = 100

const (
	pollInterval      = 2 * time.Second
	defaultCreateWait = 5 * time.Minute

	// maxBatchRounds bounds how often BatchGet re-requests unprocessed keys.
	maxBatchRounds = 8
)

// ErrUnprocessed is returned when BatchGet could not obtain every key.
var ErrUnprocessed = errors.New("table: batch get left keys unprocessed")

// API is the subset of *dynamodb.Client used by Client.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// KeyOf returns the primary key for a blob key.
func KeyOf(key string) PK {
	return PK{KeyAttr: &types.AttributeValueMemberS{Value: key}}
}

// Row is one persisted blob.
type Row struct {
	Key    string `dynamodbav:"Key"`
	Header []byte `dynamodbav:"Header"`
	Meta   []byte `dynamodbav:"Meta"`
	Value  []byte `dynamodbav:"Value"`
}

// Capacity holds provisioned throughput for table creation.
// A zero Capacity creates an on-demand (PAY_PER_REQUEST) table.
type Capacity struct {
	Read  int64
	Write int64
}

// Client issues requests against blob tables.
type Client struct {
	api    API
	logger *slog.Logger
}

// New creates a Client. A nil logger uses slog.Default().
func New(api API, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    api,
		logger: logger,
	}
}

// Exists reports whether the table exists and is usable.
// A missing table is not an error.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			c.logger.Debug("table not found", "table", name)
			return false, nil
		}
		c.logRemoteError("describe table", name, err)
		return false, fmt.Errorf("describe table %s: %w", name, err)
	}
	if out.Table == nil {
		return false, nil
	}
	switch out.Table.TableStatus {
	case types.TableStatusActive, types.TableStatusUpdating:
		return true, nil
	default:
		c.logger.Debug("table not usable", "table", name, "status", out.Table.TableStatus)
		return false, nil
	}
}

// Create creates a blob table and blocks until it is ACTIVE, polling every
// two seconds for at most maxWait (five minutes when maxWait <= 0).
// A table that is already being created is waited for.
func (c *Client) Create(ctx context.Context, name string, capacity Capacity, maxWait time.Duration) error {
	if maxWait <= 0 {
		maxWait = defaultCreateWait
	}
	start := time.Now()

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(KeyAttr), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(KeyAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
	if capacity.Read > 0 || capacity.Write > 0 {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(capacity.Read),
			WriteCapacityUnits: aws.Int64(capacity.Write),
		}
	}

	if _, err := c.api.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			c.logRemoteError("create table", name, err)
			return fmt.Errorf("create table %s: %w", name, err)
		}
		c.logger.Info("table already exists, waiting for it", "table", name)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = pollInterval
		o.MaxDelay = pollInterval
	})
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, maxWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", name, err)
	}

	c.logger.Info("table active",
		"table", name,
		"billingMode", input.BillingMode,
		"elapsed", time.Since(start),
	)
	return nil
}

// Delete deletes the table. Deleting a missing table succeeds.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(name),
	})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			c.logger.Warn("table not found, nothing to delete", "table", name)
			return nil
		}
		c.logRemoteError("delete table", name, err)
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	c.logger.Info("table deleted", "table", name)
	return nil
}

// Put writes a full row, replacing any existing row with the same key.
func (c *Client) Put(ctx context.Context, name string, row Row) error {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("marshal row %s: %w", row.Key, err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(name),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item %s: %w", row.Key, err)
	}
	return nil
}

// Get fetches a row. It returns nil when the key does not exist.
func (c *Client) Get(ctx context.Context, name, key string, consistent bool) (*Row, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(name),
		Key:            KeyOf(key),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	row, err := decodeRow(out.Item)
	if err != nil {
		return nil, fmt.Errorf("unmarshal row %s: %w", key, err)
	}
	return &row, nil
}

// decodeRow unmarshals an item. A binary attribute that is present keeps a
// non-nil value even when empty, so nil always means the attribute is absent.
func decodeRow(item map[string]types.AttributeValue) (Row, error) {
	var row Row
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return Row{}, err
	}
	for attr, field := range map[string]*[]byte{
		HeaderAttr: &row.Header,
		MetaAttr:   &row.Meta,
		ValueAttr:  &row.Value,
	} {
		if _, ok := item[attr].(*types.AttributeValueMemberB); ok && *field == nil {
			*field = []byte{}
		}
	}
	return row, nil
}

// Remove deletes a row. Removing a missing key succeeds.
func (c *Client) Remove(ctx context.Context, name, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(name),
		Key:       KeyOf(key),
	})
	if err != nil {
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	return nil
}

// Scan reads every row of the table. When attrs is non-empty only those
// attributes are fetched.
func (c *Client) Scan(ctx context.Context, name string, consistent bool, attrs ...string) ([]Row, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(name),
		ConsistentRead: aws.Bool(consistent),
	}
	if len(attrs) > 0 {
		// Key and Value are reserved words and must go through name placeholders.
		names := make(map[string]string, len(attrs))
		var projection string
		for i, attr := range attrs {
			placeholder := "#p" + strconv.Itoa(i)
			names[placeholder] = attr
			if i > 0 {
				projection += ", "
			}
			projection += placeholder
		}
		input.ProjectionExpression = aws.String(projection)
		input.ExpressionAttributeNames = names
	}

	var rows []Row
	paginator := dynamodb.NewScanPaginator(c.api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		var pageRows []Row
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageRows); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		rows = append(rows, pageRows...)
	}
	return rows, nil
}

// BatchGet fetches up to MaxBatchItems rows by key in one logical request.
// Keys without a row are absent from the result. Keys the service leaves
// unprocessed are requested again a bounded number of times.
func (c *Client) BatchGet(ctx context.Context, name string, keys []string, consistent bool) (map[string]Row, error) {
	if len(keys) > MaxBatchItems {
		return nil, fmt.Errorf("batch get %s: %d keys exceeds limit of %d", name, len(keys), MaxBatchItems)
	}

	result := make(map[string]Row, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	seen := make(map[string]struct{}, len(keys))
	reqKeys := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		reqKeys = append(reqKeys, KeyOf(key))
	}

	request := map[string]types.KeysAndAttributes{
		name: {Keys: reqKeys, ConsistentRead: aws.Bool(consistent)},
	}
	for round := 0; len(request) > 0; round++ {
		if round == maxBatchRounds {
			return nil, fmt.Errorf("batch get %s: %w (%d keys after %d rounds)",
				name, ErrUnprocessed, len(request[name].Keys), round)
		}
		out, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: request,
		})
		if err != nil {
			return nil, fmt.Errorf("batch get %s: %w", name, err)
		}

		for _, item := range out.Responses[name] {
			row, err := decodeRow(item)
			if err != nil {
				return nil, fmt.Errorf("unmarshal batch get response: %w", err)
			}
			result[row.Key] = row
		}

		if n := len(out.UnprocessedKeys[name].Keys); n > 0 {
			c.logger.Debug("batch get unprocessed keys", "table", name, "count", n, "round", round)
		}
		request = out.UnprocessedKeys
	}
	return result, nil
}

// Op is one write within a transaction.
type Op struct {
	table string
	put   *Row
	key   string
}

// PutOp writes row to the named table.
func PutOp(name string, row Row) Op {
	return Op{table: name, put: &row, key: row.Key}
}

// DeleteOp deletes key from the named table.
func DeleteOp(name, key string) Op {
	return Op{table: name, key: key}
}

// TransactWrite applies every operation atomically: all land or none do.
func (c *Client) TransactWrite(ctx context.Context, ops []Op) error {
	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		if op.put != nil {
			item, err := attributevalue.MarshalMap(op.put)
			if err != nil {
				return fmt.Errorf("marshal row %s: %w", op.key, err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(op.table),
					Item:      item,
				},
			})
			continue
		}
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(op.table),
				Key:       KeyOf(op.key),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("transact write %d items: %w", len(items), err)
	}
	return nil
}

// logRemoteError logs the service-level detail carried by an SDK error.
func (c *Client) logRemoteError(op, name string, err error) {
	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		c.logger.Error("dynamodb operation failed",
			"op", op,
			"table", name,
			"service", oe.Service(),
			"operation", oe.Operation(),
			"error", oe.Unwrap(),
		)
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		c.logger.Error("dynamodb api error",
			"op", op,
			"table", name,
			"code", ae.ErrorCode(),
			"message", ae.ErrorMessage(),
			"fault", ae.ErrorFault().String(),
		)
	}
}
