// Package azure stores attachments in Azure Blob Storage. Downloads are
// served through short-lived read-only SAS URLs signed with the account key.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/storage"
	"github.com/crm-platform/crm/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements storage.Storage on one container
type AzureStorage struct {
	container     *container.Client
	containerName string
	credential    *azblob.SharedKeyCredential
}

// New builds a shared-key client for the account's blob endpoint
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		container:     client.ServiceClient().NewContainerClient(cfg.ContainerName),
		containerName: cfg.ContainerName,
		credential:    credential,
	}, nil
}

// Put uploads a block blob with its content type and sha256 metadata
func (s *AzureStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (*storage.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.Sum(data)

	_, err = s.container.NewBlockBlobClient(key).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata:    map[string]*string{"sha256": to.Ptr(sum)},
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}
	return &storage.Object{Key: key, Size: int64(len(data)), Checksum: sum, ContentType: contentType}, nil
}

// Open streams the blob
func (s *AzureStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.container.NewBlobClient(key).DownloadStream(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Delete removes the blob; a missing blob is not an error
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	_, err := s.container.NewBlobClient(key).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// URL returns the blob URL with a read-only SAS valid for ttl
func (s *AzureStorage) URL(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	if s.credential == nil {
		return "", fmt.Errorf("azure storage has no shared key to sign with")
	}
	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol:           sas.ProtocolHTTPS,
		StartTime:          now.Add(-5 * time.Minute), // clock skew
		ExpiryTime:         now.Add(ttl),
		Permissions:        (&sas.BlobPermissions{Read: true}).String(),
		ContainerName:      s.containerName,
		BlobName:           key,
		ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": filename}),
	}.SignWithSharedKey(s.credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}
	return s.container.NewBlobClient(key).URL() + "?" + params.Encode(), nil
}

// Bucket returns the container name
func (s *AzureStorage) Bucket() string { return s.containerName }

// Ping reads the container properties
func (s *AzureStorage) Ping(ctx context.Context) error {
	if _, err := s.container.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("azure container %s unavailable: %w", s.containerName, err)
	}
	return nil
}
