package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/semmidev/logship/internal/domain"
	"golang.org/x/sync/errgroup"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Fanout spreads a path holding several comma-separated roots over one
// backend and merges the results. Backup tools that stripe a log backup
// across folders produce such paths.
type Fanout struct {
	lister domain.FileLister
	logger Logger
}

func NewFanout(lister domain.FileLister, logger Logger) *Fanout {
	return &Fanout{lister: lister, logger: logger}
}

// SplitRoots splits a comma-separated path list, dropping empty entries.
func SplitRoots(path string) []string {
	var roots []string
	for _, r := range strings.Split(path, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}
	return roots
}

// GetFiles queries every root concurrently. A root that fails is logged and
// contributes nothing, so an unreachable share only empties its own part of
// the listing. Only cancellation of ctx is returned as an error.
func (f *Fanout) GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*domain.BackupFile, error) {
	roots := SplitRoots(path)
	if len(roots) == 0 {
		return nil, fmt.Errorf("empty path")
	}

	var (
		mu    sync.Mutex
		files []*domain.BackupFile
		errs  *multierror.Error
	)

	var g errgroup.Group
	for _, root := range roots {
		root := root
		g.Go(func() error {
			found, err := f.lister.GetFiles(ctx, root, pattern, minAge, ascending)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", root, err))
				return nil
			}
			files = append(files, found...)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs != nil {
		f.logger.Warnf("Listing failed for %d of %d roots: %v", len(errs.Errors), len(roots), errs)
	}

	sortByTime(files, ascending)
	return files, nil
}

// ListFolders lists the folders under every root, deduplicated
// case-insensitively. Failing roots are logged and skipped.
func (f *Fanout) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	var (
		names []string
		seen  = make(map[string]struct{})
		errs  *multierror.Error
	)

	for _, root := range SplitRoots(prefix) {
		folders, err := f.lister.ListFolders(ctx, root)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", root, err))
			continue
		}
		for _, name := range folders {
			key := strings.ToLower(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, name)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errs != nil {
		f.logger.Warnf("Folder listing failed for some roots: %v", errs)
	}
	return names, nil
}

// DatabaseNames returns the databases to consider for restore. A non-empty
// included list wins; otherwise the folders at the level of the database
// token in template are listed.
func (f *Fanout) DatabaseNames(ctx context.Context, template string, included []string) ([]string, error) {
	if len(included) > 0 {
		f.logger.Infof("Polling for new databases using included list: %v", included)
		return included, nil
	}

	var prefixes []string
	for _, root := range SplitRoots(template) {
		idx := strings.Index(strings.ToLower(root), strings.ToLower(domain.DatabaseToken))
		if idx < 0 {
			continue
		}
		prefixes = append(prefixes, root[:idx])
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("path %q has no %s token", template, domain.DatabaseToken)
	}

	f.logger.Infof("Polling for new databases. Folders in path: %s", strings.Join(prefixes, ","))
	folders, err := f.ListFolders(ctx, strings.Join(prefixes, ","))
	if err != nil {
		return nil, err
	}

	names := folders[:0]
	for _, name := range folders {
		if domain.IsSystemDatabase(name) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
