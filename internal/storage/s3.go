// Package storage persists media blobs in S3/MinIO behind the
// coordinator's open/commit/abort sink contract.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appconfig "github.com/locator-kn/ms-fileserve/internal/config"
	"github.com/locator-kn/ms-fileserve/internal/domain"
	"github.com/locator-kn/ms-fileserve/internal/ingest"
)

var errAborted = errors.New("sink aborted")

// S3Store wraps the AWS S3 client for MinIO/R2.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewS3Store creates an S3 store configured for MinIO or real S3.
func NewS3Store(cfg *appconfig.Config, log zerolog.Logger) (*S3Store, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.S3Endpoint,
			HostnameImmutable: true,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.MediaBucket,
		log:      log,
	}, nil
}

// EnsureBucket creates the media bucket if it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	s.log.Info().Str("bucket", s.bucket).Msg("creating bucket")
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// s3Sink streams bytes into one object through a pipe. The upload only
// becomes a visible object when Commit succeeds; an aborted upload
// fails server-side and leaves nothing readable.
type s3Sink struct {
	pw   *io.PipeWriter
	done chan error
}

// Open allocates a fresh object key and starts a streaming upload
// against it. The key is the storage id and is returned before any
// byte is written.
func (s *S3Store) Open(ctx context.Context, name string) (ingest.Sink, string, error) {
	id := uuid.New().String()
	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(id),
			Body:     pr,
			Metadata: map[string]string{"filename": name},
		})
		if err != nil {
			// unblock a writer still pushing into the pipe
			pr.CloseWithError(err)
		}
		done <- err
	}()

	return &s3Sink{pw: pw, done: done}, id, nil
}

func (k *s3Sink) Write(p []byte) (int, error) {
	return k.pw.Write(p)
}

func (k *s3Sink) Commit(ctx context.Context) error {
	if err := k.pw.Close(); err != nil {
		return err
	}
	select {
	case err := <-k.done:
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *s3Sink) Abort() {
	k.pw.CloseWithError(errAborted)
}

// Delete removes an object. Deleting an unknown id is not an error in
// S3; callers needing existence semantics check beforehand.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	return err
}

// Stat returns the size of a stored object, or domain.ErrNotFound.
func (s *S3Store) Stat(ctx context.Context, id string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat object %s: %w", id, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// OpenRead streams a stored object. Unknown ids map to
// domain.ErrNotFound.
func (s *S3Store) OpenRead(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to get object %s: %w", id, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}
