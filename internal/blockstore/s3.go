package blockstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config represents S3 block store configuration
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Collection      string `yaml:"collection"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`
	CreateBucket    bool   `yaml:"create_bucket"`
}

// S3Metrics tracks request statistics for an S3 collection
type S3Metrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// S3Opener opens a collection stored as objects in an S3 bucket. Records
// live at <collection>/<namespace>/<key>; the schema marker at
// <collection>/_schema.json. Each record carries its first-insertion
// sequence in the x-amz-meta-inserted header, since S3 lists by key.
type S3Opener struct {
	cfg    S3Config
	logger *slog.Logger

	mu         sync.Mutex
	collection *s3Collection
	closed     bool
}

type schemaMarker struct {
	Version int `json:"version"`
}

// NewS3Opener creates an opener. No connection is made until Open.
func NewS3Opener(cfg S3Config) (*S3Opener, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &S3Opener{
		cfg:    cfg,
		logger: slog.Default().With("component", "s3-blockstore", "bucket", cfg.Bucket),
	}, nil
}

// NewS3OpenerFromClient creates an opener that uses an existing client
func NewS3OpenerFromClient(client *s3.Client, cfg S3Config) (*S3Opener, error) {
	o, err := NewS3Opener(cfg)
	if err != nil {
		return nil, err
	}
	o.collection = &s3Collection{client: client, bucket: cfg.Bucket, root: cfg.Collection}
	return o, nil
}

// Open connects to the bucket and verifies the schema marker. A successful
// open is reused by later calls.
func (o *S3Opener) Open(ctx context.Context) (Collection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrClosed
	}
	if o.collection != nil && o.collection.ready {
		return o.collection, nil
	}

	c := o.collection
	if c == nil {
		client, err := o.newClient(ctx)
		if err != nil {
			return nil, err
		}
		c = &s3Collection{client: client, bucket: o.cfg.Bucket, root: o.cfg.Collection}
	}

	if err := o.ensureBucket(ctx, c.client); err != nil {
		return nil, err
	}
	if err := o.ensureSchema(ctx, c); err != nil {
		return nil, err
	}

	c.ready = true
	o.collection = c
	o.logger.Info("S3 block store opened", "collection", o.cfg.Collection, "schema_version", SchemaVersion)
	return c, nil
}

// Close marks the opener closed. The SDK client holds no resources that
// need releasing.
func (o *S3Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Metrics returns request statistics, or zero values before the first Open
func (o *S3Opener) Metrics() S3Metrics {
	o.mu.Lock()
	c := o.collection
	o.mu.Unlock()
	if c == nil {
		return S3Metrics{}
	}
	return c.Metrics()
}

func (o *S3Opener) newClient(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(o.cfg.MaxRetries),
	}
	if o.cfg.Region != "" {
		opts = append(opts, config.WithRegion(o.cfg.Region))
	}
	if o.cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.cfg.AccessKeyID, o.cfg.SecretAccessKey, o.cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(opt *s3.Options) {
		if o.cfg.Endpoint != "" {
			opt.BaseEndpoint = aws.String(o.cfg.Endpoint)
		}
		if o.cfg.ForcePathStyle {
			opt.UsePathStyle = true
		}
	}), nil
}

func (o *S3Opener) ensureBucket(ctx context.Context, client *s3.Client) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.cfg.Bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) || !o.cfg.CreateBucket {
		return fmt.Errorf("S3 bucket check failed: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(o.cfg.Bucket)}
	if o.cfg.Region != "" && o.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(o.cfg.Region),
		}
	}
	if _, err := client.CreateBucket(ctx, input); err != nil {
		if isErrorType[*s3types.BucketAlreadyOwnedByYou](err) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", o.cfg.Bucket, err)
	}
	o.logger.Info("Created S3 bucket", "region", o.cfg.Region)
	return nil
}

func (o *S3Opener) ensureSchema(ctx context.Context, c *s3Collection) error {
	key := c.root + "/_schema.json"

	data, found, err := c.getObject(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read schema marker: %w", err)
	}

	if !found {
		payload, _ := json.Marshal(schemaMarker{Version: SchemaVersion})
		if err := c.putObject(ctx, key, payload, nil); err != nil {
			return fmt.Errorf("failed to write schema marker: %w", err)
		}
		return nil
	}

	var marker schemaMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return fmt.Errorf("invalid schema marker %s: %w", key, err)
	}
	if marker.Version > SchemaVersion {
		return fmt.Errorf("%w: store has version %d, supported %d", ErrSchemaMismatch, marker.Version, SchemaVersion)
	}
	return nil
}

type s3Collection struct {
	client *s3.Client
	bucket string
	root   string
	ready  bool

	mu           sync.RWMutex
	metrics      S3Metrics
	lastInserted int64
}

// insertedMetadata is the user metadata key holding the insertion sequence
const insertedMetadata = "inserted"

type s3Object struct {
	key      string
	data     []byte
	inserted int64
}

func (c *s3Collection) objectKey(namespace, key string) string {
	return c.root + "/" + namespace + "/" + key
}

func (c *s3Collection) namespacePrefix(namespace string) string {
	return c.root + "/" + namespace + "/"
}

func (c *s3Collection) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	return c.getObject(ctx, c.objectKey(namespace, key))
}

// Put writes a record. An overwrite keeps the record's insertion sequence.
func (c *s3Collection) Put(ctx context.Context, namespace, key string, payload []byte) error {
	objectKey := c.objectKey(namespace, key)
	inserted, err := c.insertedAt(ctx, objectKey)
	if err != nil {
		return err
	}
	return c.putObject(ctx, objectKey, payload, map[string]string{
		insertedMetadata: strconv.FormatInt(inserted, 10),
	})
}

// insertedAt returns the sequence stored on an existing object, or a new one
func (c *s3Collection) insertedAt(ctx context.Context, objectKey string) (int64, error) {
	start := time.Now()
	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	switch {
	case err == nil:
		c.recordMetrics(time.Since(start), false)
		if seq, ok := parseInserted(head.Metadata); ok {
			return seq, nil
		}
	case isNotFound(err):
		c.recordMetrics(time.Since(start), false)
	default:
		c.recordMetrics(time.Since(start), true)
		c.recordError(err)
		return 0, c.translateError(err, "HeadObject", objectKey)
	}
	return c.nextInserted(), nil
}

// nextInserted returns a wall-clock sequence that never repeats within this
// collection
func (c *s3Collection) nextInserted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= c.lastInserted {
		seq = c.lastInserted + 1
	}
	c.lastInserted = seq
	return seq
}

// parseInserted reads the insertion sequence from object metadata.
// Metadata keys come back lower-cased.
func parseInserted(metadata map[string]string) (int64, bool) {
	for k, v := range metadata {
		if strings.EqualFold(k, insertedMetadata) {
			seq, err := strconv.ParseInt(v, 10, 64)
			return seq, err == nil
		}
	}
	return 0, false
}

// sortByInserted orders objects by insertion sequence. Objects without one
// sort first; ties keep key order.
func sortByInserted(objects []s3Object) {
	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].inserted < objects[j].inserted
	})
}

func (c *s3Collection) Delete(ctx context.Context, namespace, key string) (bool, error) {
	start := time.Now()
	objectKey := c.objectKey(namespace, key)

	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		c.recordMetrics(time.Since(start), !isNotFound(err))
		if isNotFound(err) {
			return false, nil
		}
		c.recordError(err)
		return false, c.translateError(err, "HeadObject", objectKey)
	}

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	c.recordMetrics(time.Since(start), err != nil)
	if err != nil {
		c.recordError(err)
		return false, c.translateError(err, "DeleteObject", objectKey)
	}
	return true, nil
}

func (c *s3Collection) DeleteAll(ctx context.Context, namespace string) error {
	keys, err := c.listKeys(ctx, c.namespacePrefix(namespace))
	if err != nil {
		return err
	}

	// DeleteObjects accepts at most 1000 keys per request
	for start := 0; start < len(keys); start += 1000 {
		end := start + 1000
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		begin := time.Now()
		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		c.recordMetrics(time.Since(begin), err != nil)
		if err != nil {
			c.recordError(err)
			return c.translateError(err, "DeleteObjects", c.namespacePrefix(namespace))
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (c *s3Collection) Count(ctx context.Context, namespace string) (int, error) {
	keys, err := c.listKeys(ctx, c.namespacePrefix(namespace))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// List returns records ordered by their stored insertion sequence
func (c *s3Collection) List(ctx context.Context, namespace string) ([]Record, error) {
	prefix := c.namespacePrefix(namespace)
	keys, err := c.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	objects := make([]s3Object, 0, len(keys))
	for _, objectKey := range keys {
		obj, found, err := c.readObject(ctx, objectKey)
		if err != nil {
			return nil, err
		}
		if !found {
			continue // Deleted between list and get
		}
		obj.key = strings.TrimPrefix(objectKey, prefix)
		objects = append(objects, obj)
	}
	sortByInserted(objects)

	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		records = append(records, Record{Key: obj.key, Payload: obj.data})
	}
	return records, nil
}

func (c *s3Collection) Metrics() S3Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics
}

func (c *s3Collection) getObject(ctx context.Context, objectKey string) ([]byte, bool, error) {
	obj, found, err := c.readObject(ctx, objectKey)
	if err != nil || !found {
		return nil, found, err
	}
	return obj.data, true, nil
}

func (c *s3Collection) readObject(ctx context.Context, objectKey string) (s3Object, bool, error) {
	start := time.Now()

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			c.recordMetrics(time.Since(start), false)
			return s3Object{}, false, nil
		}
		c.recordMetrics(time.Since(start), true)
		c.recordError(err)
		return s3Object{}, false, c.translateError(err, "GetObject", objectKey)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	c.recordMetrics(time.Since(start), err != nil)
	if err != nil {
		c.recordError(err)
		return s3Object{}, false, fmt.Errorf("failed to read object body: %w", err)
	}

	c.mu.Lock()
	c.metrics.BytesDownloaded += int64(len(data))
	c.mu.Unlock()

	inserted, _ := parseInserted(result.Metadata)
	return s3Object{data: data, inserted: inserted}, true, nil
}

func (c *s3Collection) putObject(ctx context.Context, objectKey string, payload []byte, metadata map[string]string) error {
	start := time.Now()

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
		Metadata:      metadata,
	})
	c.recordMetrics(time.Since(start), err != nil)
	if err != nil {
		c.recordError(err)
		return c.translateError(err, "PutObject", objectKey)
	}

	c.mu.Lock()
	c.metrics.BytesUploaded += int64(len(payload))
	c.mu.Unlock()
	return nil
}

func (c *s3Collection) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		c.recordMetrics(time.Since(start), err != nil)
		if err != nil {
			c.recordError(err)
			return nil, c.translateError(err, "ListObjectsV2", prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (c *s3Collection) recordMetrics(duration time.Duration, isError bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.Requests++
	if isError {
		c.metrics.Errors++
	}

	// Rolling average latency
	if c.metrics.Requests == 1 {
		c.metrics.AverageLatency = duration
	} else {
		c.metrics.AverageLatency = time.Duration(
			(int64(c.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (c *s3Collection) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.LastError = err.Error()
	c.metrics.LastErrorTime = time.Now()
}

func (c *s3Collection) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s: %w", c.bucket, err)
	default:
		return fmt.Errorf("%s failed for %s: %w", operation, key, err)
	}
}

// isNotFound reports whether err is a missing key or bucket
func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
