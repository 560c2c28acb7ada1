package usecase

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/logship/internal/domain"
)

type fakeDestination struct {
	mu sync.Mutex

	headers    map[string][]domain.BackupHeader
	headerErrs map[string]error
	redo       map[string]*big.Int
	redoErr    error
	targets    []domain.RestoreTarget
	fileList   []domain.FileListRow

	// restoreErrs holds errors returned by successive restores of a file.
	restoreErrs map[string][]error
	killErr     error

	attempts  []domain.LogRestore
	applied   []domain.LogRestore
	killed    []string
	standbys  []string
	redoCalls int
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		headers:     make(map[string][]domain.BackupHeader),
		headerErrs:  make(map[string]error),
		redo:        make(map[string]*big.Int),
		restoreErrs: make(map[string][]error),
	}
}

func (d *fakeDestination) ReadHeaders(ctx context.Context, paths []string, device domain.DeviceType) ([]domain.BackupHeader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.headerErrs[paths[0]]; err != nil {
		return nil, err
	}
	return d.headers[paths[0]], nil
}

func (d *fakeDestination) ReadFileList(ctx context.Context, paths []string, device domain.DeviceType) ([]domain.FileListRow, error) {
	return d.fileList, nil
}

func (d *fakeDestination) RedoStartLSN(ctx context.Context, db string) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redoCalls++
	if d.redoErr != nil {
		return nil, d.redoErr
	}
	return d.redo[strings.ToLower(db)], nil
}

func (d *fakeDestination) ListRestoreTargets(ctx context.Context) ([]domain.RestoreTarget, error) {
	return d.targets, nil
}

func (d *fakeDestination) RestoreLog(ctx context.Context, r domain.LogRestore) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts = append(d.attempts, r)
	if errs := d.restoreErrs[r.File]; len(errs) > 0 {
		d.restoreErrs[r.File] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	d.applied = append(d.applied, r)
	return nil
}

func (d *fakeDestination) KillUserConnections(ctx context.Context, db string, rollbackAfter int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killed = append(d.killed, db)
	return d.killErr
}

func (d *fakeDestination) RestoreStandby(ctx context.Context, db, standbyFile string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.standbys = append(d.standbys, standbyFile)
	return nil
}

func (d *fakeDestination) appliedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var files []string
	for _, r := range d.applied {
		files = append(files, r.File)
	}
	return files
}

// fakeFiles serves a fixed set of files per path, honouring minAge and order.
type fakeFiles struct {
	mu      sync.Mutex
	files   map[string][]*domain.BackupFile
	err     error
	minAges []time.Time
}

func (f *fakeFiles) GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*domain.BackupFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.minAges = append(f.minAges, minAge)
	if f.err != nil {
		return nil, f.err
	}

	var out []*domain.BackupFile
	for _, file := range f.files[path] {
		if !file.LastModified.Before(minAge) {
			out = append(out, file)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out, nil
}

func (f *fakeFiles) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

type hoursFunc func(t time.Time) bool

func (f hoursFunc) Allowed(t time.Time) bool { return f(t) }

// logFixture builds log backups for one database under one path.
type logFixture struct {
	dest  *fakeDestination
	files *fakeFiles
	path  string
	db    string
	base  time.Time
}

func newLogFixture(db string) *logFixture {
	return &logFixture{
		dest:  newFakeDestination(),
		files: &fakeFiles{files: make(map[string][]*domain.BackupFile)},
		path:  "/logs/" + db,
		db:    db,
		base:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

// add registers a log file written minutes after base covering [first, last).
func (f *logFixture) add(name string, minutes int, first, last int64) *domain.BackupFile {
	modified := f.base.Add(time.Duration(minutes) * time.Minute)
	file := domain.NewBackupFile(f.path+"/"+name, domain.DeviceDisk, modified)
	f.files.files[f.path] = append(f.files.files[f.path], file)
	f.dest.headers[file.Path] = []domain.BackupHeader{{
		DatabaseName:     f.db,
		BackupType:       domain.BackupTypeTransactionLog,
		Position:         1,
		FirstLSN:         big.NewInt(first),
		LastLSN:          big.NewInt(last),
		BackupFinishDate: modified,
	}}
	return file
}

func (f *logFixture) watermark(lsn int64) {
	f.dest.redo[strings.ToLower(f.db)] = big.NewInt(lsn)
}
