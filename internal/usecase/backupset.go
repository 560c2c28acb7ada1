package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/semmidev/logship/internal/domain"
)

// backupSetWindow bounds how far apart in time the files of one striped
// backup may have been written.
const backupSetWindow = 60 * time.Minute

// LastBackupSet picks the files of the most recent backup of type bt for db.
// files must be sorted newest first. The modification time window is only a
// pre-filter; membership is decided by BackupSetGUID.
func LastBackupSet(ctx context.Context, r domain.HeaderReader, files []*domain.BackupFile, db string, bt domain.BackupType, logger Logger) ([]*domain.BackupFile, error) {
	var (
		set   []*domain.BackupFile
		setID uuid.UUID
		prev  time.Time
	)

	for _, f := range files {
		if len(set) > 0 && f.LastModified.Before(prev.Add(-backupSetWindow)) {
			break
		}

		headers, err := f.Headers(ctx, r)
		if err != nil {
			logger.Warnf("[%s] Error reading backup header for %s, skipping file: %v", db, f, err)
			continue
		}
		if len(headers) != 1 {
			logger.Warnf("[%s] Backup file %s contains %d backups, skipping file", db, f, len(headers))
			continue
		}

		h := headers[0]
		if !strings.EqualFold(h.DatabaseName, db) || h.BackupType != bt {
			logger.Debugf("[%s] Skipping %s: %s backup of %s", db, f, h.BackupType, h.DatabaseName)
			continue
		}

		if len(set) == 0 {
			setID = h.BackupSetGUID
		} else if h.BackupSetGUID != setID {
			break
		}

		set = append(set, f)
		prev = f.LastModified
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no %s backup found for %s", bt, db)
	}
	return set, nil
}
