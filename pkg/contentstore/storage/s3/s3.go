package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/tendant/content-store/internal/pipe"
	"github.com/tendant/content-store/pkg/contentstore"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // Default bucket for locations without one
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create the default bucket if it doesn't exist

	// PartSize for multipart uploads in bytes (default: manager.DefaultUploadPartSize)
	PartSize int64

	Logger *zap.Logger
}

// API is the subset of the S3 client the backend uses
type API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Backend is an S3-compatible implementation of the contentstore.Loader interface
type Backend struct {
	client   API
	uploader *manager.Uploader
	bucket   string
	config   Config
	logger   *zap.Logger
}

var _ contentstore.Loader = (*Backend)(nil)

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	// Set up AWS config
	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		// Use provided credentials
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			)),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible services (MinIO, etc.)
	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Options...)

	if config.CreateBucketIfNotExist && config.Bucket != "" {
		if err := createBucketIfNotExists(ctx, client, config.Bucket, config.Region); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewWithClient(client, config), nil
}

// NewWithClient creates a backend over an existing client. Only the bucket,
// SSE, part size and logger settings of config are used.
func NewWithClient(client API, config Config) *Backend {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			if config.PartSize > 0 {
				u.PartSize = config.PartSize
			}
		}),
		bucket: config.Bucket,
		config: config,
		logger: logger.With(zap.String("backend", "s3")),
	}
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func createBucketIfNotExists(ctx context.Context, client *s3.Client, bucket, region string) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}

	// Handle multiple error types for MinIO compatibility
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	// Add location constraint for regions other than us-east-1
	if region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, err = client.CreateBucket(ctx, createInput)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
				return nil
			}
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Backend returns the backend name
func (b *Backend) Backend() string {
	return "s3"
}

// Resource resolves the bucket and key of loc. The configured bucket is used
// when loc has none; ErrBucketNotSet is returned when neither is set.
func (b *Backend) Resource(ctx context.Context, loc contentstore.Location) (contentstore.Resource, error) {
	bucket := loc.Bucket
	if bucket == "" {
		bucket = b.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("resolve %q: %w", loc.Key, contentstore.ErrBucketNotSet)
	}

	if strings.HasPrefix(strings.ToLower(loc.Key), "s3://") {
		return nil, contentstore.ConfigError("object key %q must not be an s3:// url", loc.Key)
	}
	key := strings.TrimLeft(loc.Key, "/")
	if key == "" {
		return nil, contentstore.ConfigError("empty object key")
	}

	return &Resource{backend: b, bucket: bucket, key: key}, nil
}

// Resource is one object in an S3 bucket
type Resource struct {
	backend *Backend
	bucket  string
	key     string
}

func (r *Resource) Location() string {
	return "s3://" + r.bucket + "/" + r.key
}

func (r *Resource) head(ctx context.Context) (*s3.HeadObjectOutput, error) {
	out, err := r.backend.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, classify("head", r.Location(), err)
	}
	return out, nil
}

func (r *Resource) Exists(ctx context.Context) (bool, error) {
	_, err := r.head(ctx)
	if errors.Is(err, contentstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Resource) ContentLength(ctx context.Context) (int64, error) {
	out, err := r.head(ctx)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (r *Resource) LastModified(ctx context.Context) (time.Time, error) {
	out, err := r.head(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(out.LastModified), nil
}

// Open downloads the object
func (r *Resource) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := r.backend.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, classify("get", r.Location(), err)
	}
	return out.Body, nil
}

// Create streams the written bytes into a (multipart) upload. Close returns
// once the upload has completed.
func (r *Resource) Create(ctx context.Context) (io.WriteCloser, error) {
	return pipe.Start(ctx, pipe.DefaultBufferSize, func(ctx context.Context, body io.Reader) error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(r.key),
			Body:   body,
		}
		r.backend.applySSE(input)

		if _, err := r.backend.uploader.Upload(ctx, input); err != nil {
			return classify("upload", r.Location(), err)
		}
		r.backend.logger.Debug("uploaded object", zap.String("location", r.Location()))
		return nil
	}), nil
}

// Delete removes the object when it exists
func (r *Resource) Delete(ctx context.Context) error {
	exists, err := r.Exists(ctx)
	if err != nil || !exists {
		return err
	}

	_, err = r.backend.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return classify("delete", r.Location(), err)
	}
	return nil
}

// Add server-side encryption if enabled
func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// classify maps S3 API error codes onto the contentstore error kinds
func classify(op, location string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return contentstore.ErrNotFound
		case "AccessDenied", "Forbidden", "403", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s %s: %w: %s", op, location, contentstore.ErrAccess, apiErr.ErrorMessage())
		case "NoSuchBucket", "InvalidBucketName":
			return contentstore.ConfigError("%s %s: %s", op, location, apiErr.ErrorCode())
		}
	}
	return &contentstore.StorageError{Backend: "s3", Key: location, Op: op, Err: err}
}
