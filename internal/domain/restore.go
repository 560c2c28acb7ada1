package domain

import "time"

// LogRestore describes one RESTORE LOG statement.
type LogRestore struct {
	Database string
	File     string
	Device   DeviceType
	// Position selects the backup inside a multi-backup file; 0 omits FILE.
	Position int
	// StopAt is passed as STOPAT when non-zero.
	StopAt  time.Time
	Restart bool
}
