package media

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioStore keeps avatars in a MinIO (or S3 compatible) bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

func NewMinioStore(cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, "failed to check bucket existence")
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return errors.Wrap(err, "failed to create bucket")
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

func (s *MinioStore) Put(ctx context.Context, name string, data []byte) error {
	info, err := s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, "failed to store avatar")
	}
	if info.Size == 0 {
		return errors.New("stored avatar is empty")
	}
	return nil
}

// Open fetches an avatar, retrying transient failures with backoff.
func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, Object, error) {
	var (
		obj  *minio.Object
		info minio.ObjectInfo
		err  error
	)
	for attempt := 0; attempt < 3; attempt++ {
		obj, err = s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
		if err == nil {
			info, err = obj.Stat()
			if err == nil {
				break
			}
			obj.Close()
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return nil, Object{}, ErrNotFound
			}
		}
		s.logger.Warn("failed to get avatar, retrying",
			zap.Error(err),
			zap.String("name", name),
			zap.Int("attempt", attempt+1))
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return nil, Object{}, ctx.Err()
			case <-time.After(time.Duration(100*(2<<attempt)) * time.Millisecond):
			}
		}
	}
	if err != nil {
		return nil, Object{}, errors.Wrap(err, "failed to get avatar")
	}
	return obj, Object{
		Name:        name,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}
