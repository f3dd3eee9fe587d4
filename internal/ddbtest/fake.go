// Package ddbtest provides an in-memory DynamoDB double for blob tables.
package ddbtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Fake is a thread-safe in-memory substitute for the DynamoDB client.
// Tables are keyed by the string attribute "Key".
type Fake struct {
	// FailTransact, when set, is returned by TransactWriteItems before anything is applied.
	FailTransact error

	// FailBatchGet, when set, is returned by BatchGetItem.
	FailBatchGet error

	// PageSize limits the number of items per Scan page (0 = unlimited).
	PageSize int

	// BatchGetLimit caps the items served per BatchGetItem call; the
	// remaining keys are returned as UnprocessedKeys (0 = unlimited).
	BatchGetLimit int

	mu         sync.Mutex
	tables     map[string]*table
	calls      map[string]int
	lastCreate *dynamodb.CreateTableInput
}

type table struct {
	status types.TableStatus
	items  map[string]Item
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// AddTable creates an ACTIVE table without counting a call.
func (f *Fake) AddTable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[name] == nil {
		f.tables[name] = &table{status: types.TableStatusActive, items: map[string]Item{}}
	}
}

// SetStatus forces the status reported by DescribeTable.
func (f *Fake) SetStatus(name string, status types.TableStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.tables[name]; t != nil {
		t.status = status
	}
}

// HasTable reports whether the table exists.
func (f *Fake) HasTable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[name] != nil
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, key string) Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tables[tableName]
	if t == nil {
		return nil
	}
	return clone(t.items[key])
}

// Len returns the number of items in the table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.tables[tableName]; t != nil {
		return len(t.items)
	}
	return 0
}

// Calls returns how many times the named operation (e.g. "PutItem") was called.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// ResetCalls clears the call counters.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

// LastCreate returns the most recent CreateTable input.
func (f *Fake) LastCreate() *dynamodb.CreateTableInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreate
}

// --- dynamodb API ---

func (f *Fake) GetItem(_ context.Context, p *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++
	t, err := f.lookup(p.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: clone(t.items[keyOf(p.Key)])}, nil
}

func (f *Fake) PutItem(_ context.Context, p *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	t, err := f.lookup(p.TableName)
	if err != nil {
		return nil, err
	}
	t.items[keyOf(p.Item)] = clone(p.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) DeleteItem(_ context.Context, p *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	t, err := f.lookup(p.TableName)
	if err != nil {
		return nil, err
	}
	k := keyOf(p.Key)
	prior := t.items[k]
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{Attributes: prior}, nil
}

func (f *Fake) Scan(_ context.Context, p *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Scan"]++
	t, err := f.lookup(p.TableName)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(p.ExclusiveStartKey) > 0 {
		after := keyOf(p.ExclusiveStartKey)
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := len(keys)
	if f.PageSize > 0 && start+f.PageSize < end {
		end = start + f.PageSize
	}

	projection := projectionOf(p.ProjectionExpression, p.ExpressionAttributeNames)
	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, project(t.items[k], projection))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"Key": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func (f *Fake) BatchGetItem(_ context.Context, p *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["BatchGetItem"]++
	if f.FailBatchGet != nil {
		return nil, f.FailBatchGet
	}

	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	served := 0
	for name, ka := range p.RequestItems {
		if len(ka.Keys) > 100 {
			return nil, validation("Too many items requested for the BatchGetItem call")
		}
		t, err := f.lookup(aws.String(name))
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, key := range ka.Keys {
			k := keyOf(key)
			if seen[k] {
				return nil, validation("Provided list of item keys contains duplicates")
			}
			seen[k] = true

			if f.BatchGetLimit > 0 && served >= f.BatchGetLimit {
				u := out.UnprocessedKeys[name]
				u.Keys = append(u.Keys, key)
				u.ConsistentRead = ka.ConsistentRead
				out.UnprocessedKeys[name] = u
				continue
			}
			served++
			if item := t.items[k]; item != nil {
				out.Responses[name] = append(out.Responses[name], clone(item))
			}
		}
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(_ context.Context, p *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TransactWriteItems"]++
	if f.FailTransact != nil {
		return nil, f.FailTransact
	}
	if len(p.TransactItems) == 0 || len(p.TransactItems) > 100 {
		return nil, validation(fmt.Sprintf("Member must have length between 1 and 100, got %d", len(p.TransactItems)))
	}

	// validate everything before applying anything
	targets := map[string]bool{}
	for _, ti := range p.TransactItems {
		var name *string
		var k string
		switch {
		case ti.Put != nil:
			name, k = ti.Put.TableName, keyOf(ti.Put.Item)
		case ti.Delete != nil:
			name, k = ti.Delete.TableName, keyOf(ti.Delete.Key)
		default:
			return nil, validation("unsupported transact item")
		}
		if _, err := f.lookup(name); err != nil {
			return nil, err
		}
		target := aws.ToString(name) + "/" + k
		if targets[target] {
			return nil, validation("Transaction request cannot include multiple operations on one item")
		}
		targets[target] = true
	}

	for _, ti := range p.TransactItems {
		switch {
		case ti.Put != nil:
			f.tables[aws.ToString(ti.Put.TableName)].items[keyOf(ti.Put.Item)] = clone(ti.Put.Item)
		case ti.Delete != nil:
			delete(f.tables[aws.ToString(ti.Delete.TableName)].items, keyOf(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *Fake) CreateTable(_ context.Context, p *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateTable"]++
	f.lastCreate = p
	name := aws.ToString(p.TableName)
	if f.tables[name] != nil {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}
	f.tables[name] = &table{status: types.TableStatusActive, items: map[string]Item{}}
	return &dynamodb.CreateTableOutput{
		TableDescription: &types.TableDescription{
			TableName:   aws.String(name),
			TableStatus: types.TableStatusCreating,
		},
	}, nil
}

func (f *Fake) DeleteTable(_ context.Context, p *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteTable"]++
	if _, err := f.lookup(p.TableName); err != nil {
		return nil, err
	}
	name := aws.ToString(p.TableName)
	delete(f.tables, name)
	return &dynamodb.DeleteTableOutput{
		TableDescription: &types.TableDescription{
			TableName:   aws.String(name),
			TableStatus: types.TableStatusDeleting,
		},
	}, nil
}

func (f *Fake) DescribeTable(_ context.Context, p *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DescribeTable"]++
	t, err := f.lookup(p.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   p.TableName,
			TableStatus: t.status,
			ItemCount:   aws.Int64(int64(len(t.items))),
		},
	}, nil
}

// --- helpers ---

func (f *Fake) lookup(name *string) (*table, error) {
	t := f.tables[aws.ToString(name)]
	if t == nil {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Requested resource not found: Table: " + aws.ToString(name) + " not found"),
		}
	}
	return t, nil
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg, Fault: smithy.FaultClient}
}

func keyOf(item map[string]types.AttributeValue) string {
	if v, ok := item["Key"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func clone(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func projectionOf(expr *string, names map[string]string) []string {
	if aws.ToString(expr) == "" {
		return nil
	}
	var attrs []string
	for _, tok := range strings.Split(aws.ToString(expr), ",") {
		tok = strings.TrimSpace(tok)
		if resolved, ok := names[tok]; ok {
			tok = resolved
		}
		attrs = append(attrs, tok)
	}
	return attrs
}

func project(item Item, attrs []string) Item {
	if attrs == nil {
		return clone(item)
	}
	out := make(Item, len(attrs))
	for _, a := range attrs {
		if v, ok := item[a]; ok {
			out[a] = v
		}
	}
	return out
}
