package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dom/genstudio/internal/domain"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidName   = errors.New("invalid asset name")
)

// AssetStore persists accepted uploads and serves them back by stored name.
type AssetStore interface {
	Save(ctx context.Context, asset domain.UploadedAsset, r io.Reader) error
	Open(ctx context.Context, storedName string) (io.ReadCloser, *domain.UploadedAsset, error)
	// Delete removes a stored asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, storedName string) error
}

// DiskStore keeps uploads in a local directory.
type DiskStore struct {
	dir string
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Save(ctx context.Context, asset domain.UploadedAsset, r io.Reader) error {
	target, err := s.pathFor(asset.StoredName)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// Never write more than the declared size plus one byte; a longer stream
	// means the declared size lied.
	n, err := io.Copy(tmp, io.LimitReader(r, asset.SizeBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	if n > asset.SizeBytes {
		return &Rejection{Reason: ReasonTooLarge, MimeType: asset.MimeType, Size: n}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), target)
}

func (s *DiskStore) Open(_ context.Context, storedName string) (io.ReadCloser, *domain.UploadedAsset, error) {
	target, err := s.pathFor(storedName)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrAssetNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, &domain.UploadedAsset{
		StoredName: storedName,
		MimeType:   mimeTypeFromName(storedName),
		SizeBytes:  info.Size(),
	}, nil
}

func (s *DiskStore) Delete(_ context.Context, storedName string) error {
	target, err := s.pathFor(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove asset: %w", err)
	}
	return nil
}

func (s *DiskStore) pathFor(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) || strings.HasPrefix(storedName, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, storedName), nil
}

func mimeTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
