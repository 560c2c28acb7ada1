package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

type BackupType int

const (
	BackupTypeFull           BackupType = 1
	BackupTypeTransactionLog BackupType = 2
	BackupTypeFile           BackupType = 4
	BackupTypeDatabaseDiff   BackupType = 5
	BackupTypeFileDiff       BackupType = 6
	BackupTypePartial        BackupType = 7
	BackupTypePartialDiff    BackupType = 8
)

func (t BackupType) String() string {
	switch t {
	case BackupTypeFull:
		return "FULL"
	case BackupTypeTransactionLog:
		return "LOG"
	case BackupTypeFile:
		return "FILE"
	case BackupTypeDatabaseDiff:
		return "DIFF"
	case BackupTypeFileDiff:
		return "FILE_DIFF"
	case BackupTypePartial:
		return "PARTIAL"
	case BackupTypePartialDiff:
		return "PARTIAL_DIFF"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// DeviceType selects how a backup file is addressed in RESTORE statements.
type DeviceType int

const (
	DeviceDisk DeviceType = 2
	DeviceURL  DeviceType = 9
)

func (d DeviceType) Keyword() string {
	if d == DeviceURL {
		return "URL"
	}
	return "DISK"
}

// BackupHeader is one row of RESTORE HEADERONLY output. A physical file may
// hold several logical backups, identified by Position.
type BackupHeader struct {
	BackupSetGUID        uuid.UUID
	FamilyGUID           uuid.UUID
	DatabaseName         string
	ServerName           string
	BackupType           BackupType
	Position             int
	FirstLSN             *big.Int
	LastLSN              *big.Int
	CheckpointLSN        *big.Int
	DatabaseBackupLSN    *big.Int
	DifferentialBaseLSN  *big.Int
	DifferentialBaseGUID *uuid.UUID
	BackupStartDate      time.Time
	BackupFinishDate     time.Time
	RecoveryModel        string
	IsCopyOnly           bool
	IsDamaged            bool
}

// ParseLSN parses a numeric(25,0) log sequence number.
func ParseLSN(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid LSN %q", s)
	}
	return n, nil
}

// Verdict is the outcome of comparing a header against the redo watermark.
type Verdict int

const (
	VerdictApply Verdict = iota
	VerdictAlreadyApplied
	VerdictTooEarly
	VerdictTooRecent
	VerdictWrongDatabase
)

func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictAlreadyApplied:
		return "already applied"
	case VerdictTooEarly:
		return "too early"
	case VerdictTooRecent:
		return "too recent"
	case VerdictWrongDatabase:
		return "wrong database"
	default:
		return "unknown"
	}
}

// IsApplicable compares the LSN range of a log backup with the watermark w.
// FirstLSN > w is a gap: an earlier log has not been restored yet.
func IsApplicable(h BackupHeader, w *big.Int) Verdict {
	first := h.FirstLSN.Cmp(w)
	last := h.LastLSN.Cmp(w)

	switch {
	case first > 0:
		return VerdictTooRecent
	case last == 0:
		return VerdictAlreadyApplied
	case last > 0:
		return VerdictApply
	default:
		return VerdictTooEarly
	}
}

// Classify adds the database identity check to IsApplicable.
func Classify(h BackupHeader, expectedDB string, w *big.Int) Verdict {
	if !strings.EqualFold(h.DatabaseName, expectedDB) {
		return VerdictWrongDatabase
	}
	return IsApplicable(h, w)
}

func IsDiffApplicable(full, diff BackupHeader) bool {
	if diff.BackupType != BackupTypeDatabaseDiff && diff.BackupType != BackupTypePartialDiff {
		return false
	}
	if diff.DifferentialBaseLSN == nil || diff.DifferentialBaseGUID == nil || full.CheckpointLSN == nil {
		return false
	}
	return full.CheckpointLSN.Cmp(diff.DifferentialBaseLSN) == 0 && full.BackupSetGUID == *diff.DifferentialBaseGUID
}

type FileListRow struct {
	LogicalName   string
	PhysicalName  string
	Type          string
	FileGroupName string
	FileGroupID   int
	UniqueID      uuid.UUID
	IsReadOnly    bool
	IsPresent     bool
}
