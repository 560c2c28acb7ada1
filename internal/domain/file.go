package domain

import (
	"context"
	"sync"
	"time"
)

// HeaderReader runs the metadata queries against a backup set made of one or
// more files.
type HeaderReader interface {
	ReadHeaders(ctx context.Context, paths []string, device DeviceType) ([]BackupHeader, error)
	ReadFileList(ctx context.Context, paths []string, device DeviceType) ([]FileListRow, error)
}

// BackupFile is one physical backup artifact. Headers and the file list are
// fetched lazily, once per instance.
type BackupFile struct {
	Path         string
	Device       DeviceType
	LastModified time.Time

	mu       sync.Mutex
	headers  []BackupHeader
	fileList []FileListRow
}

func NewBackupFile(path string, device DeviceType, lastModified time.Time) *BackupFile {
	return &BackupFile{
		Path:         path,
		Device:       device,
		LastModified: lastModified.UTC(),
	}
}

func (f *BackupFile) Headers(ctx context.Context, r HeaderReader) ([]BackupHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.headers != nil {
		return f.headers, nil
	}

	headers, err := r.ReadHeaders(ctx, []string{f.Path}, f.Device)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, ErrNoHeaders
	}

	f.headers = headers
	return headers, nil
}

func (f *BackupFile) FirstHeader(ctx context.Context, r HeaderReader) (BackupHeader, error) {
	headers, err := f.Headers(ctx, r)
	if err != nil {
		return BackupHeader{}, err
	}
	return headers[0], nil
}

func (f *BackupFile) FileList(ctx context.Context, r HeaderReader) ([]FileListRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fileList != nil {
		return f.fileList, nil
	}

	rows, err := r.ReadFileList(ctx, []string{f.Path}, f.Device)
	if err != nil {
		return nil, err
	}

	f.fileList = rows
	return rows, nil
}

func (f *BackupFile) String() string {
	return f.Path
}

// Paths returns the file paths of a backup set in order.
func Paths(files []*BackupFile) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths
}
