package store

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/hashicorp/go-multierror"

	"github.com/jacentio/ddblob/table"
	"github.com/jacentio/ddblob/task"
)

const (
	defaultTable         = "ddblob"
	defaultCreateTimeout = 5 * time.Minute
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,255}$`)

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the blob table.
	// Default: "ddblob"
	Table string

	// Region is the AWS region. Empty uses the ambient configuration.
	Region string

	// Endpoint overrides the DynamoDB endpoint, e.g. "http://localhost:8000"
	// for DynamoDB Local.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	// Static credentials. When AccessKeyID is empty the default credential
	// chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// ConsistentRead makes reads strongly consistent.
	ConsistentRead bool

	// ReadCapacity and WriteCapacity provision the table when it is created.
	// Both zero creates an on-demand table.
	ReadCapacity  int64
	WriteCapacity int64

	// CreateTable creates the table on Connect when it does not exist.
	// Default: true
	CreateTable bool

	// CreateTimeout bounds how long Connect waits for a new table to become
	// active.
	// Default: 5m
	CreateTimeout time.Duration

	// Options is the execution mode used by Connect and returned by
	// Store.Options.
	Options task.Options

	// Logger receives store logs. Nil uses slog.Default().
	Logger *slog.Logger

	// Client replaces the DynamoDB client built from the fields above.
	Client table.API
}

// DefaultConfig returns a config for an on-demand table named "ddblob"
// that is created when missing.
func DefaultConfig() Config {
	return Config{
		Table:         defaultTable,
		CreateTable:   true,
		CreateTimeout: defaultCreateTimeout,
		Options:       task.Async,
	}
}

// validate fills in defaults and reports every invalid setting.
func (c *Config) validate() error {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = defaultCreateTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	var result *multierror.Error
	if !tableNamePattern.MatchString(c.Table) {
		result = multierror.Append(result,
			fmt.Errorf("table name %q must be 3-255 characters of [a-zA-Z0-9_.-]", c.Table))
	}
	if c.ReadCapacity < 0 || c.WriteCapacity < 0 {
		result = multierror.Append(result,
			fmt.Errorf("capacity must not be negative (read=%d, write=%d)", c.ReadCapacity, c.WriteCapacity))
	} else if (c.ReadCapacity == 0) != (c.WriteCapacity == 0) {
		result = multierror.Append(result,
			fmt.Errorf("read and write capacity must be set together (read=%d, write=%d)", c.ReadCapacity, c.WriteCapacity))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		result = multierror.Append(result, fmt.Errorf("access key %q has no secret key", c.AccessKeyID))
	}
	return result.ErrorOrNil()
}

func (c *Config) capacity() table.Capacity {
	return table.Capacity{Read: c.ReadCapacity, Write: c.WriteCapacity}
}

// loadClient builds a DynamoDB client from the AWS settings of c. The
// returned transport is owned by the client and closed on Release.
func (c *Config) loadClient(ctx context.Context) (*dynamodb.Client, *http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(&http.Client{Transport: transport}),
	}
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})
	return client, transport, nil
}
