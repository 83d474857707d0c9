package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"

	"github.com/classnet/backend/core"
)

type ossStorage struct {
	bucket   *oss.Bucket
	endpoint string
	name     string
}

var _ core.FileStorage = (*ossStorage)(nil) // interface compliance check

// NewOSSStorage connects to the bucket configured in conf.ObjectStorage.
func NewOSSStorage(conf core.ObjectStorageConfig) (*ossStorage, error) {
	client, err := oss.New(conf.Endpoint, conf.AccessKey, conf.SecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to object storage")
	}
	bucket, err := client.Bucket(conf.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "opening bucket")
	}
	return &ossStorage{
		bucket:   bucket,
		endpoint: conf.Endpoint,
		name:     conf.Bucket,
	}, nil
}

func (s *ossStorage) Save(ctx context.Context, key string, upload core.Upload) (string, error) {
	key = strings.TrimPrefix(key, "/")
	opts := []oss.Option{
		oss.WithContext(ctx),
		oss.ContentType(upload.ContentType),
	}
	if err := s.bucket.PutObject(key, upload.Content, opts...); err != nil {
		return "", errors.Wrap(err, "saving object")
	}
	return s.url(key), nil
}

func (s *ossStorage) Delete(ctx context.Context, key string) error {
	key = strings.TrimPrefix(key, "/")
	err := s.bucket.DeleteObject(key, oss.WithContext(ctx))
	return errors.Wrap(err, "deleting object")
}

func (s *ossStorage) url(key string) string {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return fmt.Sprintf("https://%s.%s/%s", s.name, endpoint, key)
}
