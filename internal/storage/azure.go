package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"dwpipe/internal/config"
)

// BlobAPI is the narrow blob surface AzureStorage needs. azblobAPI adapts
// *azblob.Client to it; tests substitute an in-memory fake.
type BlobAPI interface {
	Upload(ctx context.Context, container, name string, body io.Reader, contentType string) (etag string, err error)
	Download(ctx context.Context, container, name string) (io.ReadCloser, error)
	List(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, container, name string) error
	CreateContainer(ctx context.Context, container string) error
}

// AzureStorage implements Storage on an Azure Blob container.
type AzureStorage struct {
	api       BlobAPI
	container string
	now       func() time.Time
}

// NewAzure connects with the connection string when set, otherwise with the
// account URL and the default Azure credential chain.
func NewAzure(cfg config.AzureConfig, containerName string) (*AzureStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if containerName == "" {
		return nil, errors.New("azure container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	} else {
		var cred azcore.TokenCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure credential: %w", err)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create azure blob client: %w", err)
	}
	return NewAzureWithAPI(azblobAPI{client: client}, containerName), nil
}

// NewAzureWithAPI wraps an existing blob API.
func NewAzureWithAPI(api BlobAPI, containerName string) *AzureStorage {
	return &AzureStorage{api: api, container: containerName, now: time.Now}
}

func (a *AzureStorage) Backend() string   { return BackendAzure }
func (a *AzureStorage) Container() string { return a.container }

func (a *AzureStorage) UploadFile(ctx context.Context, localPath, folder string) (ObjectInfo, error) {
	f, size, err := openLocal(localPath)
	if err != nil {
		return ObjectInfo{}, err
	}
	defer f.Close()

	key := ObjectKey(folder, localPath)
	ct := contentType(localPath)
	etag, err := a.api.Upload(ctx, a.container, key, f, ct)
	if err != nil {
		return ObjectInfo{}, a.wrap("upload blob", key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         size,
		ETag:         etag,
		ContentType:  ct,
		LastModified: a.now().UTC(),
	}, nil
}

func (a *AzureStorage) Download(ctx context.Context, key, localPath string) ([]byte, error) {
	body, err := a.api.Download(ctx, a.container, key)
	if err != nil {
		return nil, a.wrap("download blob", key, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, a.wrap("read blob", key, err)
	}
	if err := saveLocal(localPath, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *AzureStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects, err := a.api.List(ctx, a.container, prefix)
	if err != nil {
		return nil, a.wrap("list blobs", prefix, err)
	}
	if objects == nil {
		objects = []ObjectInfo{}
	}
	return objects, nil
}

func (a *AzureStorage) Delete(ctx context.Context, key string) error {
	if err := a.api.Delete(ctx, a.container, key); err != nil {
		return a.wrap("delete blob", key, err)
	}
	return nil
}

// EnsureContainer creates the container when it does not exist yet.
func (a *AzureStorage) EnsureContainer(ctx context.Context) error {
	err := a.api.CreateContainer(ctx, a.container)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("azure create container %s: %w", a.container, err)
	}
	return nil
}

func (a *AzureStorage) wrap(op, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("azure %s %s/%s: %w", op, a.container, key, ErrNotFound)
	}
	return fmt.Errorf("azure %s %s/%s: %w", op, a.container, key, err)
}

// azblobAPI adapts *azblob.Client to BlobAPI.
type azblobAPI struct {
	client *azblob.Client
}

func (c azblobAPI) Upload(ctx context.Context, containerName, name string, body io.Reader, contentType string) (string, error) {
	resp, err := c.client.UploadStream(ctx, containerName, name, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", err
	}
	if resp.ETag == nil {
		return "", nil
	}
	return string(*resp.ETag), nil
}

func (c azblobAPI) Download(ctx context.Context, containerName, name string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c azblobAPI) List(ctx context.Context, containerName, prefix string) ([]ObjectInfo, error) {
	pager := c.client.NewListBlobsFlatPager(containerName, &azblob.ListBlobsFlatOptions{Prefix: &prefix})

	var objects []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			objects = append(objects, blobInfo(item))
		}
	}
	return objects, nil
}

func (c azblobAPI) Delete(ctx context.Context, containerName, name string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, name, nil)
	return err
}

func (c azblobAPI) CreateContainer(ctx context.Context, containerName string) error {
	_, err := c.client.CreateContainer(ctx, containerName, nil)
	return err
}

func blobInfo(item *container.BlobItem) ObjectInfo {
	var info ObjectInfo
	if item == nil {
		return info
	}
	if item.Name != nil {
		info.Key = *item.Name
	}
	if p := item.Properties; p != nil {
		if p.ContentLength != nil {
			info.Size = *p.ContentLength
		}
		if p.ETag != nil {
			info.ETag = string(*p.ETag)
		}
		if p.ContentType != nil {
			info.ContentType = *p.ContentType
		}
		if p.LastModified != nil {
			info.LastModified = *p.LastModified
		}
	}
	return info
}

var _ Storage = (*AzureStorage)(nil)
