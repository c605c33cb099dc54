package upload

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore keeps uploads in an S3-compatible bucket.
type MinIOStore struct {
	client     *minio.Client
	bucketName string

	mu          sync.Mutex
	bucketReady bool
}

// NewMinIOStore builds the client only; the bucket is checked on first use so
// startup does not depend on MinIO being reachable.
func NewMinIOStore(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, bucketName: bucketName}, nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	s.bucketReady = true
	return nil
}

func (s *MinIOStore) Save(ctx context.Context, asset domain.UploadedAsset, r io.Reader) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucketName, asset.StoredName, r, asset.SizeBytes, minio.PutObjectOptions{
		ContentType: asset.MimeType,
		UserMetadata: map[string]string{
			"Original-Name": asset.OriginalName,
			"Uploaded-At":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

func (s *MinIOStore) Open(ctx context.Context, storedName string) (io.ReadCloser, *domain.UploadedAsset, error) {
	if storedName == "" {
		return nil, nil, ErrInvalidName
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, storedName, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil, ErrAssetNotFound
		}
		return nil, nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, &domain.UploadedAsset{
		StoredName:   storedName,
		OriginalName: info.UserMetadata["Original-Name"],
		MimeType:     info.ContentType,
		SizeBytes:    info.Size,
	}, nil
}

func (s *MinIOStore) Delete(ctx context.Context, storedName string) error {
	if storedName == "" {
		return ErrInvalidName
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, storedName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
