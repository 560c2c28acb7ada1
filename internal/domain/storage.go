package domain

import (
	"context"
	"strings"
	"time"
)

// DatabaseToken is replaced by a database name in path templates.
const DatabaseToken = "{DatabaseName}"

// FileLister enumerates backup files in one storage backend.
type FileLister interface {
	// GetFiles returns files under path whose base name matches pattern and
	// whose modification time is at or after minAge, sorted by time.
	GetFiles(ctx context.Context, path, pattern string, minAge time.Time, ascending bool) ([]*BackupFile, error)
	// ListFolders returns the names of the immediate child folders of prefix.
	ListFolders(ctx context.Context, prefix string) ([]string, error)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// ResolvePath substitutes the database name for every token in template,
// ignoring the token's case.
func ResolvePath(template, database string) string {
	var b strings.Builder
	lower := strings.ToLower(template)
	token := strings.ToLower(DatabaseToken)

	for {
		idx := strings.Index(lower, token)
		if idx < 0 {
			b.WriteString(template)
			return b.String()
		}
		b.WriteString(template[:idx])
		b.WriteString(database)
		template = template[idx+len(token):]
		lower = lower[idx+len(token):]
	}
}
