// Package storage uploads extracted files to object stores and reads them back.
//
// Two backends exist: S3-compatible storage (AWS or the local emulator) and
// Azure Blob Storage (Azure or Azurite). Keys always use forward slashes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Backend names accepted by Factory.Open.
const (
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// ErrNotFound is returned when the requested key does not exist in the container.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Storage is a bucket or container scoped object store client.
// Implementations are safe for concurrent use by multiple goroutines.
type Storage interface {
	// Backend returns BackendS3 or BackendAzure.
	Backend() string
	// Container returns the bucket or container name the client is bound to.
	Container() string
	// UploadFile stores the local file under folder/<base name>, overwriting.
	UploadFile(ctx context.Context, localPath, folder string) (ObjectInfo, error)
	// Download returns the object content and also writes it to localPath when set.
	Download(ctx context.Context, key, localPath string) ([]byte, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
}

// ObjectKey joins a folder and the base name of a local file.
func ObjectKey(folder, localPath string) string {
	name := filepath.Base(localPath)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// openLocal opens a file for upload. A missing file keeps matching fs.ErrNotExist.
func openLocal(localPath string) (*os.File, int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open upload file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat upload file: %w", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("upload file %s is a directory", localPath)
	}
	return f, st.Size(), nil
}

func saveLocal(localPath string, data []byte) error {
	if localPath == "" {
		return nil
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("save download: %w", err)
	}
	return nil
}
