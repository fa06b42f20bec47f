// Package s3 implements the dataset storage backend over an S3-compatible
// object store. The dataset root is a key prefix; farm identifiers are
// the first path segment under it.
package s3

import (
	"context"
	stderr "errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/farmsight/farmsight/internal/config"
	"github.com/farmsight/farmsight/internal/storage"
	"github.com/farmsight/farmsight/pkg/errors"
	"github.com/farmsight/farmsight/pkg/retry"
	"github.com/farmsight/farmsight/pkg/types"
)

// API is the subset of the S3 client used by the backend. Tests install
// a fake here.
type API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend serves the dataset from an S3 bucket.
type Backend struct {
	client  API
	bucket  string
	prefix  string
	timeout time.Duration
	retryer *retry.Retryer
	logger  *slog.Logger
}

var _ types.Backend = (*Backend)(nil)

// New creates an S3 backend from configuration and validates bucket
// reachability before returning. Misconfiguration fails here, at
// startup, not on the first request.
func New(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Backend, error) {
	s3cfg := cfg.Storage.S3
	if s3cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeMissingConfig,
			"S3 bucket name is required for s3 storage mode").
			WithComponent("storage.s3")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3cfg.Region),
	}
	if s3cfg.AccessKeyID != "" && s3cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				s3cfg.AccessKeyID, s3cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig,
			"failed to load AWS configuration", err).
			WithComponent("storage.s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.Endpoint)
		}
		if s3cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewWithClient(ctx, client, cfg, logger)
}

// NewWithClient creates a backend on an existing client and verifies the
// bucket is reachable.
func NewWithClient(ctx context.Context, client API, cfg *config.Configuration, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		client:  client,
		bucket:  cfg.Storage.S3.Bucket,
		prefix:  normalizePrefix(cfg.Storage.S3.Prefix),
		timeout: cfg.Network.RequestTimeout,
		retryer: retry.New(retry.Config{
			MaxAttempts:  cfg.Network.MaxRetries,
			InitialDelay: cfg.Network.InitialBackoff,
			MaxDelay:     cfg.Network.MaxBackoff,
		}),
		logger: logger.With("component", "storage.s3", "bucket", cfg.Storage.S3.Bucket),
	}
	if b.timeout <= 0 {
		b.timeout = 30 * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := client.HeadBucket(callCtx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return nil, b.translateBucketError(err)
	}
	return b, nil
}

// ListFarms enumerates first-level prefixes under the dataset root.
// Enumeration failure degrades to an empty list with a logged
// diagnostic.
func (b *Backend) ListFarms(ctx context.Context) ([]string, error) {
	var ids []string
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		ids = ids[:0]
		var token *string
		for {
			callCtx, cancel := context.WithTimeout(ctx, b.timeout)
			out, err := b.client.ListObjectsV2(callCtx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.bucket),
				Prefix:            aws.String(b.prefix),
				Delimiter:         aws.String("/"),
				ContinuationToken: token,
			})
			cancel()
			if err != nil {
				return b.translateError(err, "list_farms", b.prefix)
			}
			for _, cp := range out.CommonPrefixes {
				id := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), b.prefix), "/")
				ids = append(ids, id)
			}
			if out.NextContinuationToken == nil {
				break
			}
			token = out.NextContinuationToken
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to list farms", "error", err)
		return []string{}, nil
	}
	return storage.NormalizeFarms(ids), nil
}

// ListImages enumerates recognized image keys under a farm's prefix,
// returned relative to the farm. Failures degrade to an empty list.
func (b *Backend) ListImages(ctx context.Context, farmID string) ([]string, error) {
	farmPrefix := b.prefix + farmID + "/"
	keys := []string{}
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		keys = keys[:0]
		var token *string
		for {
			callCtx, cancel := context.WithTimeout(ctx, b.timeout)
			out, err := b.client.ListObjectsV2(callCtx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(b.bucket),
				Prefix:            aws.String(farmPrefix),
				ContinuationToken: token,
			})
			cancel()
			if err != nil {
				return b.translateError(err, "list_images", farmPrefix)
			}
			for _, obj := range out.Contents {
				rel := strings.TrimPrefix(aws.ToString(obj.Key), farmPrefix)
				if rel != "" && storage.IsImageKey(rel) {
					keys = append(keys, rel)
				}
			}
			if out.NextContinuationToken == nil {
				break
			}
			token = out.NextContinuationToken
		}
		return nil
	})
	if err != nil {
		b.logger.Error("failed to list farm images", "farm", farmID, "error", err)
		return []string{}, nil
	}
	return keys, nil
}

// GetImage fetches one capture's bytes.
func (b *Backend) GetImage(ctx context.Context, farmID, relativePath string) ([]byte, error) {
	key := b.imageKey(farmID, relativePath)
	var data []byte
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		out, err := b.client.GetObject(callCtx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return b.translateError(err, "get_image", key)
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		if err != nil {
			return errors.Wrap(errors.ErrCodeNetworkError,
				"failed to read object body", err).
				WithComponent("storage.s3").
				WithContext("key", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// FarmExists probes for any key under the farm's prefix.
func (b *Backend) FarmExists(ctx context.Context, farmID string) (bool, error) {
	if farmID == "" || farmID == storage.SentinelFarmID {
		return false, nil
	}
	farmPrefix := b.prefix + farmID + "/"
	var found bool
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		out, err := b.client.ListObjectsV2(callCtx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(b.bucket),
			Prefix:  aws.String(farmPrefix),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return b.translateError(err, "farm_exists", farmPrefix)
		}
		found = aws.ToInt32(out.KeyCount) > 0 || len(out.Contents) > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// ImageExists probes one key.
func (b *Backend) ImageExists(ctx context.Context, farmID, relativePath string) (bool, error) {
	key := b.imageKey(farmID, relativePath)
	var found bool
	err := b.retryer.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		_, err := b.client.HeadObject(callCtx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			terr := b.translateError(err, "image_exists", key)
			var fe *errors.Error
			if stderr.As(terr, &fe) && fe.Code == errors.ErrCodeObjectNotFound {
				found = false
				return nil
			}
			return terr
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// HealthCheck verifies the bucket is still reachable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := b.client.HeadBucket(callCtx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return b.translateBucketError(err)
	}
	return nil
}

func (b *Backend) imageKey(farmID, relativePath string) string {
	return b.prefix + farmID + "/" + strings.TrimPrefix(relativePath, "/")
}

// translateError maps SDK failures onto the internal taxonomy. NotFound
// and AccessDenied are terminal; everything else is treated as a
// transient transport failure eligible for retry.
func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.Newf(errors.ErrCodeObjectNotFound,
			"object not found: %s", key).
			WithComponent("storage.s3").
			WithOperation(operation).
			WithCause(err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Newf(errors.ErrCodeBucketNotFound,
			"bucket not found: %s", b.bucket).
			WithComponent("storage.s3").
			WithOperation(operation).
			WithCause(err)
	case isAccessDenied(err):
		return errors.Wrap(errors.ErrCodeAccessDenied,
			"access denied by object store", err).
			WithComponent("storage.s3").
			WithOperation(operation).
			WithContext("key", key)
	case isCredentialsError(err):
		return errors.Wrap(errors.ErrCodeCredentialsMissing,
			"object store credentials unavailable", err).
			WithComponent("storage.s3").
			WithOperation(operation)
	default:
		return errors.Wrap(errors.ErrCodeNetworkError,
			operation+" failed", err).
			WithComponent("storage.s3").
			WithOperation(operation).
			WithContext("key", key)
	}
}

// translateBucketError distinguishes the startup validation failures.
func (b *Backend) translateBucketError(err error) error {
	switch {
	case isCredentialsError(err):
		return errors.Wrap(errors.ErrCodeCredentialsMissing,
			"object store credentials unavailable", err).
			WithComponent("storage.s3").
			WithOperation("head_bucket")
	case isErrorType[*s3types.NotFound](err), isErrorType[*s3types.NoSuchBucket](err):
		return errors.Newf(errors.ErrCodeBucketNotFound,
			"bucket not found: %s", b.bucket).
			WithComponent("storage.s3").
			WithOperation("head_bucket").
			WithCause(err)
	case isAccessDenied(err):
		return errors.Wrap(errors.ErrCodeAccessDenied,
			"access to bucket denied", err).
			WithComponent("storage.s3").
			WithOperation("head_bucket").
			WithContext("bucket", b.bucket)
	default:
		return errors.Wrap(errors.ErrCodeConnectionFailed,
			"failed to reach object store", err).
			WithComponent("storage.s3").
			WithOperation("head_bucket").
			WithContext("bucket", b.bucket)
	}
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "403":
			return true
		}
	}
	return false
}

func isCredentialsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "credential")
}

func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}

func normalizePrefix(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return strings.TrimPrefix(p, "/")
}
