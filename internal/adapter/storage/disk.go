package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/semmidev/logship/internal/domain"
	"github.com/spf13/afero"
)

type DiskStorage struct {
	fs afero.Fs
}

// NewDisk returns a disk lister over fs. A nil fs means the OS filesystem.
func NewDisk(fs afero.Fs) *DiskStorage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DiskStorage{fs: fs}
}

func (d *DiskStorage) GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*domain.BackupFile, error) {
	exists, err := afero.DirExists(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat folder %s: %w", path, err)
	}
	if !exists {
		return nil, fmt.Errorf("folder %s does not exist", path)
	}

	entries, err := afero.ReadDir(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var files []*domain.BackupFile
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !re.MatchString(entry.Name()) {
			continue
		}
		if !notBefore(entry.ModTime(), minAge) {
			continue
		}
		files = append(files, domain.NewBackupFile(filepath.Join(path, entry.Name()), domain.DeviceDisk, entry.ModTime()))
	}

	sortByTime(files, ascending)
	return files, nil
}

func (d *DiskStorage) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	entries, err := afero.ReadDir(d.fs, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var folders []string
	for _, entry := range entries {
		if entry.IsDir() {
			folders = append(folders, entry.Name())
		}
	}

	return folders, nil
}
