package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/semmidev/logship/internal/domain"
)

const fullPattern = "*.bak"

type InspectOptions struct {
	LogPath      string
	FullFilePath string
	DiffFilePath string
	Offset       time.Duration
	Mapper       domain.NameMapper
}

// PendingLog is one log backup found for a database with its verdict
// against the current watermark.
type PendingLog struct {
	File    *domain.BackupFile
	Header  domain.BackupHeader
	Verdict domain.Verdict
	Err     error
}

type BackupSetReport struct {
	Files    []*domain.BackupFile
	Header   domain.BackupHeader
	FileList []domain.FileListRow
	// Diff is the newest differential backup, nil when no diff path is
	// configured or none was found.
	Diff *DiffReport
}

type DiffReport struct {
	Files  []*domain.BackupFile
	Header domain.BackupHeader
	// Applicable reports that the diff is based on the full backup.
	Applicable bool
}

// Inspector reports what the sequencer would do for one database without
// restoring anything.
type Inspector struct {
	dest   Destination
	files  domain.FileLister
	logger Logger
	opts   InspectOptions
}

func NewInspector(dest Destination, files domain.FileLister, logger Logger, opts InspectOptions) *Inspector {
	return &Inspector{dest: dest, files: files, logger: logger, opts: opts}
}

func (i *Inspector) fromDate(ctx context.Context, target string) (time.Time, error) {
	targets, err := i.dest.ListRestoreTargets(ctx)
	if err != nil {
		return time.Time{}, err
	}
	for _, t := range targets {
		if strings.EqualFold(t.Name, target) {
			if t.LastRestoredFinish.IsZero() {
				return time.Time{}, nil
			}
			return t.LastRestoredFinish.Add(i.opts.Offset), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s is not in a restoring or standby state", target)
}

func (i *Inspector) PendingLogs(ctx context.Context, target string) (domain.QueueItem, []PendingLog, error) {
	item := domain.QueueItem{SourceDB: i.opts.Mapper.SourceName(target), TargetDB: target}

	from, err := i.fromDate(ctx, target)
	if err != nil {
		return item, nil, err
	}
	item.FromDate = from

	files, err := i.files.GetFiles(ctx, domain.ResolvePath(i.opts.LogPath, item.SourceDB), logPattern, from, true)
	if err != nil {
		return item, nil, fmt.Errorf("list log files: %w", err)
	}

	w, err := i.dest.RedoStartLSN(ctx, target)
	if err != nil {
		return item, nil, err
	}

	var pending []PendingLog
	for _, f := range files {
		headers, err := f.Headers(ctx, i.dest)
		if err != nil {
			pending = append(pending, PendingLog{File: f, Err: err})
			continue
		}
		for _, h := range headers {
			pending = append(pending, PendingLog{File: f, Header: h, Verdict: domain.Classify(h, item.SourceDB, w)})
		}
	}
	return item, pending, nil
}

func (i *Inspector) LastFullBackup(ctx context.Context, target string) (BackupSetReport, error) {
	if i.opts.FullFilePath == "" {
		return BackupSetReport{}, fmt.Errorf("full backup path is not configured")
	}

	source := i.opts.Mapper.SourceName(target)
	files, err := i.files.GetFiles(ctx, domain.ResolvePath(i.opts.FullFilePath, source), fullPattern, time.Time{}, false)
	if err != nil {
		return BackupSetReport{}, fmt.Errorf("list full backups: %w", err)
	}

	set, err := LastBackupSet(ctx, i.dest, files, source, domain.BackupTypeFull, i.logger)
	if err != nil {
		return BackupSetReport{}, err
	}

	header, err := set[0].FirstHeader(ctx, i.dest)
	if err != nil {
		return BackupSetReport{}, err
	}

	var fileList []domain.FileListRow
	if len(set) == 1 {
		fileList, err = set[0].FileList(ctx, i.dest)
	} else {
		fileList, err = i.dest.ReadFileList(ctx, domain.Paths(set), set[0].Device)
	}
	if err != nil {
		return BackupSetReport{}, fmt.Errorf("read file list: %w", err)
	}

	report := BackupSetReport{Files: set, Header: header, FileList: fileList}
	if i.opts.DiffFilePath != "" {
		report.Diff = i.lastDiff(ctx, source, header)
	}
	return report, nil
}

func (i *Inspector) lastDiff(ctx context.Context, source string, full domain.BackupHeader) *DiffReport {
	files, err := i.files.GetFiles(ctx, domain.ResolvePath(i.opts.DiffFilePath, source), fullPattern, full.BackupFinishDate, false)
	if err != nil {
		i.logger.Warnf("[%s] Error listing diff backups: %v", source, err)
		return nil
	}

	set, err := LastBackupSet(ctx, i.dest, files, source, domain.BackupTypeDatabaseDiff, i.logger)
	if err != nil {
		i.logger.Infof("[%s] %v", source, err)
		return nil
	}

	header, err := set[0].FirstHeader(ctx, i.dest)
	if err != nil {
		return nil
	}
	return &DiffReport{Files: set, Header: header, Applicable: domain.IsDiffApplicable(full, header)}
}
