package mssql

import (
	"fmt"
	"strings"

	"github.com/semmidev/logship/internal/domain"
)

// stopAtLayout is the ISO8601 form accepted by RESTORE ... STOPAT.
const stopAtLayout = "2006-01-02T15:04:05.000"

// QuoteName returns name as a bracket-delimited identifier.
func QuoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteString returns s as a single-quoted string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func fromClause(files []string, device domain.DeviceType) string {
	devices := make([]string, 0, len(files))
	for _, f := range files {
		devices = append(devices, fmt.Sprintf("%s = N%s", device.Keyword(), QuoteString(f)))
	}
	return "FROM " + strings.Join(devices, ",\n")
}

func HeaderOnlyScript(files []string, device domain.DeviceType) string {
	return "RESTORE HEADERONLY\n" + fromClause(files, device)
}

func FileListOnlyScript(files []string, device domain.DeviceType) string {
	return "RESTORE FILELISTONLY\n" + fromClause(files, device)
}

func RestoreLogScript(r domain.LogRestore) string {
	var b strings.Builder

	fmt.Fprintf(&b, "RESTORE LOG %s %s WITH NORECOVERY", QuoteName(r.Database), fromClause([]string{r.File}, r.Device))
	if r.Position > 0 {
		fmt.Fprintf(&b, ", FILE = %d", r.Position)
	}
	if !r.StopAt.IsZero() {
		fmt.Fprintf(&b, ", STOPAT = %s", QuoteString(r.StopAt.Format(stopAtLayout)))
	}
	if r.Restart {
		b.WriteString(", RESTART")
	}

	return b.String()
}

// StandbyScript leaves the database readable between restores. A database
// already in standby is left alone.
func StandbyScript(db, standbyFile string) string {
	return fmt.Sprintf("IF DATABASEPROPERTYEX(%s,'IsInStandBy') = 0 RESTORE DATABASE %s WITH STANDBY = %s",
		QuoteString(db), QuoteName(db), QuoteString(standbyFile))
}

func KillUserConnectionsScript(db string, rollbackAfter int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IF DATABASEPROPERTYEX(%s,'IsInStandBy') = 1\n", QuoteString(db))
	b.WriteString("BEGIN\n")
	fmt.Fprintf(&b, "\tALTER DATABASE %s SET SINGLE_USER WITH ROLLBACK AFTER %d\n", QuoteName(db), rollbackAfter)
	fmt.Fprintf(&b, "\tRESTORE DATABASE %s WITH NORECOVERY\n", QuoteName(db))
	b.WriteString("END")
	return b.String()
}
