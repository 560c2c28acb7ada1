package domain

import (
	"fmt"
	"strings"
	"time"
)

type RecoveryModel int

const (
	RecoveryFull       RecoveryModel = 1
	RecoveryBulkLogged RecoveryModel = 2
	RecoverySimple     RecoveryModel = 3
)

type DatabaseState int

const (
	StateOnline     DatabaseState = 0
	StateRestoring  DatabaseState = 1
	StateRecovering DatabaseState = 2
	StateOffline    DatabaseState = 6
)

func (s DatabaseState) String() string {
	switch s {
	case StateOnline:
		return "ONLINE"
	case StateRestoring:
		return "RESTORING"
	case StateRecovering:
		return "RECOVERING"
	case StateOffline:
		return "OFFLINE"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// DatabaseInfo is a snapshot of one destination database.
type DatabaseInfo struct {
	Name          string
	RecoveryModel RecoveryModel
	State         DatabaseState
	IsInStandby   bool
}

// RestoreTarget is a destination database that can accept log restores, with
// the finish date of the last log backup restored to it (zero if unknown).
type RestoreTarget struct {
	Name               string
	LastRestoredFinish time.Time
}

var systemDatabases = []string{"master", "model", "msdb", "tempdb"}

func IsSystemDatabase(name string) bool {
	for _, s := range systemDatabases {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// NameMapper converts between source and target database names.
type NameMapper struct {
	Prefix string
	Suffix string
}

func (m NameMapper) TargetName(source string) string {
	return m.Prefix + source + m.Suffix
}

func (m NameMapper) SourceName(target string) string {
	name := strings.TrimPrefix(target, m.Prefix)
	return strings.TrimSuffix(name, m.Suffix)
}
