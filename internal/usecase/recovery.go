package usecase

import (
	"context"

	"github.com/semmidev/logship/internal/domain"
)

// SQL Server error numbers with a recovery action.
const (
	errLogTooEarly       int32 = 4326
	errReadFailure       int32 = 3203
	errExclusiveAccess   int32 = 3101
	errRestoreIncomplete int32 = 4319
	errLogTooRecent      int32 = 4305
)

type RecoveryAction int

const (
	ActionEscalate RecoveryAction = iota
	ActionSkipTooEarly
	ActionSkipDamaged
	ActionKillAndRetry
	ActionRetryRestart
	ActionTooRecent
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionSkipTooEarly:
		return "skip too early"
	case ActionSkipDamaged:
		return "skip damaged"
	case ActionKillAndRetry:
		return "kill connections and retry"
	case ActionRetryRestart:
		return "retry with restart"
	case ActionTooRecent:
		return "too recent"
	default:
		return "escalate"
	}
}

// Decide maps a failed restore to its recovery action.
func Decide(err error) RecoveryAction {
	switch domain.ErrorNumber(err) {
	case errLogTooEarly:
		return ActionSkipTooEarly
	case errReadFailure:
		return ActionSkipDamaged
	case errExclusiveAccess:
		return ActionKillAndRetry
	case errRestoreIncomplete:
		return ActionRetryRestart
	case errLogTooRecent:
		return ActionTooRecent
	default:
		return ActionEscalate
	}
}

// Recovery runs log restores and applies the recovery action on failure.
type Recovery struct {
	dest                LogRestorer
	logger              Logger
	killUserConnections bool
	rollbackAfter       int
}

type LogRestorer interface {
	RestoreLog(ctx context.Context, r domain.LogRestore) error
	KillUserConnections(ctx context.Context, db string, rollbackAfter int) error
}

func NewRecovery(dest LogRestorer, logger Logger, killUserConnections bool, rollbackAfter int) *Recovery {
	return &Recovery{
		dest:                dest,
		logger:              logger,
		killUserConnections: killUserConnections,
		rollbackAfter:       rollbackAfter,
	}
}

// Restore returns true when the log was applied. A skipped file returns
// false and a nil error; an escalated failure returns the error.
func (r *Recovery) Restore(ctx context.Context, req domain.LogRestore) (bool, error) {
	err := r.dest.RestoreLog(ctx, req)
	if err == nil {
		return true, nil
	}

	db := req.Database
	switch Decide(err) {
	case ActionSkipTooEarly:
		r.logger.Warnf("[%s] Log file %s is too early to apply, continuing with next file: %v", db, req.File, err)
		return false, nil

	case ActionSkipDamaged:
		r.logger.Errorf("[%s] Error reading backup file %s, possibly damaged or incomplete. Continuing with next file: %v", db, req.File, err)
		return false, nil

	case ActionKillAndRetry:
		if !r.killConnections(ctx, db) {
			return false, nil
		}
		if err := r.dest.RestoreLog(ctx, req); err != nil {
			return false, err
		}
		return true, nil

	case ActionRetryRestart:
		r.logger.Warnf("[%s] A previous restore was interrupted, retrying with RESTART: %v", db, err)
		req.Restart = true
		if err := r.dest.RestoreLog(ctx, req); err != nil {
			r.logger.Errorf("[%s] Restore with RESTART failed for %s, continuing with next file: %v", db, req.File, err)
			return false, nil
		}
		return true, nil

	default:
		return false, err
	}
}

func (r *Recovery) killConnections(ctx context.Context, db string) bool {
	if !r.killUserConnections {
		r.logger.Errorf("[%s] User connections are preventing restore operations. Consider enabling kill_user_connections", db)
		return false
	}

	r.logger.Warnf("[%s] User connections are preventing restore operations. Sessions will be killed after %d seconds", db, r.rollbackAfter)
	if err := r.dest.KillUserConnections(ctx, db, r.rollbackAfter); err != nil {
		r.logger.Errorf("[%s] Error killing user connections: %v", db, err)
		return false
	}
	return true
}
