package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/semmidev/logship/internal/domain"
)

const logPattern = "*.trn"

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
}

// Destination is the SQL Server instance receiving log restores.
type Destination interface {
	domain.HeaderReader
	LogRestorer
	RedoStartLSN(ctx context.Context, db string) (*big.Int, error)
	ListRestoreTargets(ctx context.Context) ([]domain.RestoreTarget, error)
	RestoreStandby(ctx context.Context, db, standbyFile string) error
}

type HoursChecker interface {
	Allowed(t time.Time) bool
}

type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeDeferred
	OutcomeStopAtReached
	OutcomeCancelled
	OutcomeOutsideHours
	OutcomeBudgetExceeded
	OutcomeTooRecent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeStopAtReached:
		return "stop at reached"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeOutsideHours:
		return "outside active hours"
	case OutcomeBudgetExceeded:
		return "max processing time exceeded"
	case OutcomeTooRecent:
		return "too recent"
	default:
		return "unknown"
	}
}

type RunResult struct {
	Outcome Outcome
	Applied int
	// Watermark is the LSN the next restore must cover; nil when headers
	// are not checked.
	Watermark *big.Int
}

type RestoreOptions struct {
	LogPath           string
	StandbyFileName   string
	CheckHeaders      bool
	RestoreDelay      time.Duration
	StopAt            time.Time
	MaxProcessingTime time.Duration
}

// Widening steps applied to FromDate after consecutive too recent runs.
var tooRecentWidening = []time.Duration{60 * time.Minute, 24 * time.Hour}

// Sequencer restores the pending log backups of one database in order.
type Sequencer struct {
	dest     Destination
	files    domain.FileLister
	recovery *Recovery
	hours    HoursChecker
	notifier domain.Notifier
	stopped  *MembershipSet
	logger   Logger
	opts     RestoreOptions
	now      func() time.Time
}

func NewSequencer(
	dest Destination,
	files domain.FileLister,
	recovery *Recovery,
	hours HoursChecker,
	notifier domain.Notifier,
	stopped *MembershipSet,
	logger Logger,
	opts RestoreOptions,
) *Sequencer {
	return &Sequencer{
		dest:     dest,
		files:    files,
		recovery: recovery,
		hours:    hours,
		notifier: notifier,
		stopped:  stopped,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Process restores pending logs for item. A too recent run is retried with
// FromDate moved back by each widening step, re-applying the last restored
// log; after that ErrManualIntervention is returned.
func (s *Sequencer) Process(ctx context.Context, item domain.QueueItem) (RunResult, error) {
	from := item.FromDate
	reprocess := false

	for attempt := 0; ; attempt++ {
		res, err := s.run(ctx, item, from, reprocess)
		if err != nil || res.Outcome != OutcomeTooRecent {
			return res, err
		}

		if attempt >= len(tooRecentWidening) {
			s.logger.Errorf("[%s] Log file too recent to apply. Manual intervention might be required", item.TargetDB)
			s.notify(ctx, fmt.Sprintf("Log shipping for %s needs attention: an earlier log backup is missing.", item.TargetDB))
			return res, domain.ErrManualIntervention
		}

		step := tooRecentWidening[attempt]
		s.logger.Warnf("[%s] Log file too recent to apply. Adjusting from date by %s", item.TargetDB, step)
		from = from.Add(-step)
		reprocess = true
	}
}

func (s *Sequencer) run(ctx context.Context, item domain.QueueItem, from time.Time, reprocess bool) (RunResult, error) {
	db := item.TargetDB
	start := s.now()

	defer s.standby(ctx, db)

	path := domain.ResolvePath(s.opts.LogPath, item.SourceDB)
	s.logger.Debugf("[%s] Getting logs after %s from %s", db, from.Format(time.RFC3339), path)

	files, err := s.files.GetFiles(ctx, path, logPattern, from, true)
	if err != nil {
		return RunResult{}, fmt.Errorf("list log files: %w", err)
	}

	res := RunResult{Outcome: OutcomeCompleted}
	if !s.opts.CheckHeaders {
		return s.runUnchecked(ctx, db, files, start)
	}

	if res.Watermark, err = s.dest.RedoStartLSN(ctx, db); err != nil {
		return res, fmt.Errorf("redo start LSN: %w", err)
	}
	s.logger.Debugf("[%s] Redo start LSN: %s", db, res.Watermark)

	pending, err := s.readPending(ctx, db, files)
	if err != nil {
		res.Outcome = OutcomeCancelled
		return res, nil
	}

	for _, p := range pending {
		if outcome, stop := s.checkBoundary(ctx, db, start); stop {
			res.Outcome = outcome
			return res, nil
		}

		outcome, done, err := s.apply(ctx, item, p.file, p.header, &res, reprocess)
		if err != nil || done {
			res.Outcome = outcome
			return res, err
		}
	}

	return res, nil
}

// runUnchecked restores files in modification order without reading headers.
func (s *Sequencer) runUnchecked(ctx context.Context, db string, files []*domain.BackupFile, start time.Time) (RunResult, error) {
	res := RunResult{Outcome: OutcomeCompleted}
	for _, file := range files {
		if outcome, stop := s.checkBoundary(ctx, db, start); stop {
			res.Outcome = outcome
			return res, nil
		}

		applied, err := s.restore(ctx, db, file, 0)
		if errors.Is(err, errTooRecent) {
			res.Outcome = OutcomeTooRecent
			return res, nil
		}
		if err != nil {
			return res, err
		}
		if applied {
			res.Applied++
		}
	}
	return res, nil
}

// pendingLog is one logical backup inside a listed file.
type pendingLog struct {
	file   *domain.BackupFile
	header domain.BackupHeader
}

// readPending reads the headers of every listed file and orders the logical
// backups by LSN. Modification times only select the candidates: a log
// copied late still lands in its place in the chain. Unreadable files are
// skipped. The error is non-nil only when ctx is done.
func (s *Sequencer) readPending(ctx context.Context, db string, files []*domain.BackupFile) ([]pendingLog, error) {
	var pending []pendingLog
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			s.logger.Infof("[%s] Halt log restores due to stop request", db)
			return nil, err
		}

		headers, err := file.Headers(ctx, s.dest)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Infof("[%s] Halt log restores due to stop request", db)
				return nil, ctx.Err()
			}
			s.logger.Errorf("[%s] Error reading backup header for %s, skipping file: %v", db, file, err)
			continue
		}
		if len(headers) > 1 {
			s.logger.Warnf("[%s] Log file %s contains %d backups. Expected 1, but each will be processed", db, file, len(headers))
		}
		for _, h := range headers {
			pending = append(pending, pendingLog{file: file, header: h})
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].header, pending[j].header
		if a.FirstLSN == nil || b.FirstLSN == nil {
			return false
		}
		if c := a.FirstLSN.Cmp(b.FirstLSN); c != 0 {
			return c < 0
		}
		if a.LastLSN == nil || b.LastLSN == nil {
			return false
		}
		return a.LastLSN.Cmp(b.LastLSN) < 0
	})
	return pending, nil
}

var errTooRecent = errors.New("log too recent")

// apply handles one header of a log file. done reports that the run must
// stop with outcome.
func (s *Sequencer) apply(ctx context.Context, item domain.QueueItem, file *domain.BackupFile, h domain.BackupHeader, res *RunResult, reprocess bool) (Outcome, bool, error) {
	db := item.TargetDB
	verdict := domain.Classify(h, item.SourceDB, res.Watermark)

	if verdict == domain.VerdictWrongDatabase {
		err := &domain.HeaderVerificationError{
			Verdict: verdict,
			File:    file.Path,
			Msg:     fmt.Sprintf("database %s, expected a backup for %s", h.DatabaseName, item.SourceDB),
		}
		s.notify(ctx, fmt.Sprintf("Log shipping for %s stopped: %v", db, err))
		return OutcomeCompleted, true, err
	}

	if s.opts.RestoreDelay > 0 && s.now().Sub(h.BackupFinishDate) < s.opts.RestoreDelay {
		s.logger.Infof("[%s] Waiting to restore %s and subsequent files. Backup finish date: %s, eligible after %s",
			db, file, h.BackupFinishDate.Format(time.RFC3339), h.BackupFinishDate.Add(s.opts.RestoreDelay).Format(time.RFC3339))
		return OutcomeDeferred, true, nil
	}

	switch verdict {
	case domain.VerdictAlreadyApplied:
		if !reprocess {
			s.logger.Infof("[%s] Skipping %s, FILE=%d. Found last log file restored. FirstLSN: %s, LastLSN: %s", db, file, h.Position, h.FirstLSN, h.LastLSN)
			return OutcomeCompleted, false, nil
		}
		s.logger.Infof("[%s] Re-processing %s, FILE=%d. FirstLSN: %s, LastLSN: %s", db, file, h.Position, h.FirstLSN, h.LastLSN)
	case domain.VerdictTooEarly:
		s.logger.Infof("[%s] Skipping %s. A later LSN is required: %s, FirstLSN: %s, LastLSN: %s", db, file, res.Watermark, h.FirstLSN, h.LastLSN)
		return OutcomeCompleted, false, nil
	case domain.VerdictTooRecent:
		s.logger.Warnf("[%s] Header verification failed for %s. An earlier LSN is required: %s, FirstLSN: %s, LastLSN: %s", db, file, res.Watermark, h.FirstLSN, h.LastLSN)
		return OutcomeTooRecent, true, nil
	default:
		s.logger.Infof("[%s] Header verification successful for %s, FILE=%d. FirstLSN: %s, LastLSN: %s", db, file, h.Position, h.FirstLSN, h.LastLSN)
	}

	applied, err := s.restore(ctx, db, file, h.Position)
	if errors.Is(err, errTooRecent) {
		return OutcomeTooRecent, true, nil
	}
	if err != nil {
		return OutcomeCompleted, true, err
	}
	if !applied {
		return OutcomeCompleted, false, nil
	}

	res.Applied++
	res.Watermark = h.LastLSN

	if !s.opts.StopAt.IsZero() && !h.BackupFinishDate.Before(s.opts.StopAt) {
		s.logger.Infof("[%s] Stop at target reached. Last log: %s, backup finish date: %s, stop at: %s",
			db, file, h.BackupFinishDate.Format(time.RFC3339), s.opts.StopAt.Format(time.RFC3339))
		s.stopped.Add(db)
		return OutcomeStopAtReached, true, nil
	}

	return OutcomeCompleted, false, nil
}

func (s *Sequencer) restore(ctx context.Context, db string, file *domain.BackupFile, position int) (bool, error) {
	applied, err := s.recovery.Restore(ctx, domain.LogRestore{
		Database: db,
		File:     file.Path,
		Device:   file.Device,
		Position: position,
		StopAt:   s.opts.StopAt,
	})
	if err != nil && Decide(err) == ActionTooRecent {
		s.logger.Warnf("[%s] Restore of %s reported the log is too recent: %v", db, file, err)
		return false, errTooRecent
	}
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", file, err)
	}
	return applied, nil
}

// checkBoundary is evaluated before each file.
func (s *Sequencer) checkBoundary(ctx context.Context, db string, start time.Time) (Outcome, bool) {
	if ctx.Err() != nil {
		s.logger.Infof("[%s] Halt log restores due to stop request", db)
		return OutcomeCancelled, true
	}
	now := s.now()
	if s.hours != nil && !s.hours.Allowed(now) {
		s.logger.Infof("[%s] Halt log restores outside active hours", db)
		return OutcomeOutsideHours, true
	}
	if s.opts.MaxProcessingTime > 0 && now.Sub(start) > s.opts.MaxProcessingTime {
		s.logger.Warnf("[%s] Max processing time exceeded. Log processing will continue on the next iteration", db)
		return OutcomeBudgetExceeded, true
	}
	return OutcomeCompleted, false
}

// standby runs even when ctx is cancelled so that a stopped service leaves
// the database readable.
func (s *Sequencer) standby(ctx context.Context, db string) {
	if s.opts.StandbyFileName == "" {
		return
	}
	file := domain.ResolvePath(s.opts.StandbyFileName, db)
	if err := s.dest.RestoreStandby(context.WithoutCancel(ctx), db, file); err != nil {
		s.logger.Errorf("[%s] Error returning database to standby: %v", db, err)
	}
}

func (s *Sequencer) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), message); err != nil {
		s.logger.Warnf("Failed to send notification: %v", err)
	}
}
