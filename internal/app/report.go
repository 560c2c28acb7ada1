package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/semmidev/logship/internal/domain"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// Check lists the destination databases and the source databases found in
// the log path, and marks which of them can receive log restores.
func (a *App) Check(ctx context.Context, out io.Writer) error {
	infos, err := a.db.ListDatabaseInfo(ctx)
	if err != nil {
		return fmt.Errorf("list destination databases: %w", err)
	}
	targets, err := a.db.ListRestoreTargets(ctx)
	if err != nil {
		return fmt.Errorf("list restore targets: %w", err)
	}
	restorable := make(map[string]domain.RestoreTarget, len(targets))
	for _, t := range targets {
		restorable[t.Name] = t
	}

	fmt.Fprintf(out, "%s Connected to destination, %d user database(s)\n\n", okMark, len(infos))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, " \tDATABASE\tSTATE\tSTANDBY\tLAST RESTORED\n")
	for _, info := range infos {
		mark := warnMark
		last := "-"
		if t, ok := restorable[info.Name]; ok {
			mark = okMark
			if !t.LastRestoredFinish.IsZero() {
				last = t.LastRestoredFinish.Format(time.RFC3339)
			}
		}
		if !a.engine.IsIncluded(info.Name, a.config.Mapper().SourceName(info.Name)) {
			mark = failMark
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", mark, info.Name, info.State, info.IsInStandby, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	names, err := a.files.DatabaseNames(ctx, a.config.Source.LogPath, a.config.Restore.Included)
	if err != nil {
		fmt.Fprintf(out, "\n%s Source databases: %v\n", failMark, err)
		return nil
	}

	fmt.Fprintf(out, "\n%s %d source database(s) found in log path\n", okMark, len(names))
	for _, name := range names {
		target := a.config.Mapper().TargetName(name)
		mark := okMark
		if _, ok := restorable[target]; !ok {
			mark = warnMark
		}
		fmt.Fprintf(out, "  %s %s -> %s\n", mark, name, target)
	}
	return nil
}

// Inspect prints the pending log backups of target with their verdicts and
// the last full backup set, without restoring anything.
func (a *App) Inspect(ctx context.Context, target string, out io.Writer) error {
	item, pending, err := a.inspector.PendingLogs(ctx, target)
	if err != nil {
		return err
	}

	from := "beginning"
	if !item.FromDate.IsZero() {
		from = item.FromDate.Format(time.RFC3339)
	}
	fmt.Fprintf(out, "%s (source %s), log backups since %s\n\n", item.TargetDB, item.SourceDB, from)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "FILE\tMODIFIED\tFIRST LSN\tLAST LSN\tVERDICT\n")
	for _, p := range pending {
		if p.Err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t%s %v\n", p.File, p.File.LastModified.Format(time.RFC3339), failMark, p.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.File, p.File.LastModified.Format(time.RFC3339), p.Header.FirstLSN, p.Header.LastLSN, p.Verdict)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if a.config.Source.FullFilePath == "" {
		return nil
	}

	report, err := a.inspector.LastFullBackup(ctx, target)
	if err != nil {
		fmt.Fprintf(out, "\n%s Last full backup: %v\n", warnMark, err)
		return nil
	}

	fmt.Fprintf(out, "\nLast full backup finished %s, checkpoint LSN %s\n",
		report.Header.BackupFinishDate.Format(time.RFC3339), report.Header.CheckpointLSN)
	for _, f := range report.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\nLOGICAL NAME\tTYPE\tPHYSICAL NAME\n")
	for _, row := range report.FileList {
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.LogicalName, row.Type, row.PhysicalName)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if report.Diff == nil {
		return nil
	}
	mark := okMark
	if !report.Diff.Applicable {
		mark = failMark
	}
	fmt.Fprintf(out, "\n%s Last diff backup finished %s, based on the full backup: %t\n",
		mark, report.Diff.Header.BackupFinishDate.Format(time.RFC3339), report.Diff.Applicable)
	for _, f := range report.Diff.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return nil
}
