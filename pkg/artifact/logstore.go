package artifact

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// LogStore keeps build logs for later inspection.
type LogStore interface {
	// PutLog stores the log, returning a key with which to get it
	// back.
	PutLog(ctx context.Context, service, version string, log []byte) (string, error)
	GetLog(ctx context.Context, key string) ([]byte, error)
}

func logKey(service, version string) string {
	return path.Join(service, version+".log")
}

// DirLogStore writes logs to files under a directory.
type DirLogStore struct {
	Dir string
}

func (s *DirLogStore) PutLog(ctx context.Context, service, version string, log []byte) (string, error) {
	key := logKey(service, version)
	p := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", errors.Wrap(err, "creating log directory")
	}
	if err := ioutil.WriteFile(p, log, 0644); err != nil {
		return "", errors.Wrapf(err, "writing build log %s", key)
	}
	return key, nil
}

func (s *DirLogStore) GetLog(ctx context.Context, key string) ([]byte, error) {
	clean := path.Clean("/" + key)
	if strings.Contains(key, "..") {
		return nil, errors.Errorf("invalid log key %q", key)
	}
	return ioutil.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(clean)))
}

// MinioConfig says where to find an S3-compatible bucket for build
// logs.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("object store endpoint is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("object store bucket is required")
	}
	return nil
}

// MinioLogStore writes logs as objects in a bucket.
type MinioLogStore struct {
	client *minio.Client
	bucket string
}

// NewMinioLogStore connects to the object store, creating the bucket
// if it does not exist yet.
func NewMinioLogStore(ctx context.Context, cfg MinioConfig) (*MinioLogStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store client")
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "checking bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, errors.Wrapf(err, "creating bucket %s", cfg.Bucket)
		}
	}
	return &MinioLogStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioLogStore) PutLog(ctx context.Context, service, version string, log []byte) (string, error) {
	key := logKey(service, version)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(log), int64(len(log)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return "", errors.Wrapf(err, "storing build log %s", key)
	}
	return key, nil
}

func (s *MinioLogStore) GetLog(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching build log %s", key)
	}
	defer obj.Close()
	return ioutil.ReadAll(obj)
}
