package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/semmidev/logship/internal/domain"
)

// AzureBlobStorage lists blobs in one container. Paths are blob name
// prefixes relative to the container.
type AzureBlobStorage struct {
	containerURL string
	listPager    func(delimiter string, o *container.ListBlobsHierarchyOptions) *runtime.Pager[container.ListBlobsHierarchyResponse]
}

func NewAzureBlob(containerURL, sasToken string) (*AzureBlobStorage, error) {
	containerURL = strings.TrimSuffix(containerURL, "/")

	client, err := container.NewClientWithNoCredential(containerURL+sasQuery(sasToken), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container client: %w", err)
	}

	return &AzureBlobStorage{containerURL: containerURL, listPager: client.NewListBlobsHierarchyPager}, nil
}

func sasQuery(token string) string {
	if token == "" || strings.HasPrefix(token, "?") {
		return token
	}
	return "?" + token
}

// BlobURL is the address SQL Server restores a blob from. The SAS token is
// not part of it; the server uses its own credential for the container.
func (a *AzureBlobStorage) BlobURL(name string) string {
	return a.containerURL + "/" + strings.TrimPrefix(name, "/")
}

// GetFiles lists the blobs directly under path, like a folder on disk.
func (a *AzureBlobStorage) GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*domain.BackupFile, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	prefix := folderPrefix(path)
	pager := a.listPager("/", &container.ListBlobsHierarchyOptions{Prefix: &prefix})

	var files []*domain.BackupFile
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		if resp.Segment == nil {
			continue
		}

		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil || item.Properties == nil || item.Properties.LastModified == nil {
				continue
			}
			if !directChild(*item.Name, prefix) || !re.MatchString(objectBase(*item.Name)) {
				continue
			}
			modified := *item.Properties.LastModified
			if !notBefore(modified, minAge) {
				continue
			}
			files = append(files, domain.NewBackupFile(a.BlobURL(*item.Name), domain.DeviceURL, modified))
		}
	}

	sortByTime(files, ascending)
	return files, nil
}

func (a *AzureBlobStorage) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	prefix = folderPrefix(prefix)
	pager := a.listPager("/", &container.ListBlobsHierarchyOptions{Prefix: &prefix})

	var folders []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blob prefixes: %w", err)
		}
		if resp.Segment == nil {
			continue
		}
		for _, p := range resp.Segment.BlobPrefixes {
			if p.Name != nil {
				folders = append(folders, objectBase(*p.Name))
			}
		}
	}

	return folders, nil
}
