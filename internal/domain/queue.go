package domain

import "time"

// QueueItem is one unit of restore work. Items are identified by target
// database only; SourceDB may differ by a configured prefix or suffix.
type QueueItem struct {
	SourceDB string
	TargetDB string
	FromDate time.Time
}
