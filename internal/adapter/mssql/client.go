package mssql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/semmidev/logship/internal/domain"
)

//go:embed sql/*.sql
var scripts embed.FS

func script(name string) string {
	b, err := scripts.ReadFile("sql/" + name + ".sql")
	if err != nil {
		panic(fmt.Sprintf("missing embedded script %s: %v", name, err))
	}
	return string(b)
}

var (
	redoStartLSNQuery   = script("redo_start_lsn")
	restoreTargetsQuery = script("restore_targets")
	userDatabasesQuery  = script("user_databases")
)

// errLoginFailed is returned for bad credentials; retrying will not help.
const errLoginFailed int32 = 18456

type Logger interface {
	Debugf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Client runs statements against the destination SQL Server instance.
type Client struct {
	db     *sqlx.DB
	logger Logger
}

func New(db *sqlx.DB, logger Logger) *Client {
	return &Client{db: db, logger: logger}
}

// Open connects to dsn and pings with exponential backoff until the server
// answers, maxRetries is reached, or ctx is cancelled.
func Open(ctx context.Context, dsn string, maxRetries int, logger Logger) (*Client, error) {
	db, err := sqlx.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open destination: %w", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 30 * time.Second

	var b backoff.BackOff = expBackoff
	if maxRetries > 0 {
		b = backoff.WithMaxRetries(expBackoff, uint64(maxRetries))
	}
	b = backoff.WithContext(b, ctx)

	ping := func() error {
		err := wrapError(db.PingContext(ctx))
		if domain.ErrorNumber(err) == errLoginFailed {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warnf("Destination not reachable, retrying in %s: %v", next, err)
	}

	if err := backoff.RetryNotify(ping, b, notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to destination: %w", err)
	}

	return New(db, logger), nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Exec(ctx context.Context, stmt string) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, stmt)
	if err != nil {
		return wrapError(err)
	}
	c.logger.Debugf("Executed in %s: %s", time.Since(start).Round(time.Millisecond), stmt)
	return nil
}

// QueryScalar scans the first column of the first row into dest.
func (c *Client) QueryScalar(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return wrapError(c.db.QueryRowxContext(ctx, query, args...).Scan(dest))
}

type headerRow struct {
	BackupSetGUID        mssqldb.UniqueIdentifier  `db:"BackupSetGUID"`
	FamilyGUID           mssqldb.UniqueIdentifier  `db:"FamilyGUID"`
	DatabaseName         string                    `db:"DatabaseName"`
	ServerName           string                    `db:"ServerName"`
	BackupType           int                       `db:"BackupType"`
	Position             int                       `db:"Position"`
	FirstLSN             sql.NullString            `db:"FirstLSN"`
	LastLSN              sql.NullString            `db:"LastLSN"`
	CheckpointLSN        sql.NullString            `db:"CheckpointLSN"`
	DatabaseBackupLSN    sql.NullString            `db:"DatabaseBackupLSN"`
	DifferentialBaseLSN  sql.NullString            `db:"DifferentialBaseLSN"`
	DifferentialBaseGUID *mssqldb.UniqueIdentifier `db:"DifferentialBaseGUID"`
	BackupStartDate      time.Time                 `db:"BackupStartDate"`
	BackupFinishDate     time.Time                 `db:"BackupFinishDate"`
	RecoveryModel        string                    `db:"RecoveryModel"`
	IsCopyOnly           bool                      `db:"IsCopyOnly"`
	IsDamaged            bool                      `db:"IsDamaged"`
}

func nullLSN(s sql.NullString) (*big.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return domain.ParseLSN(s.String)
}

func (r headerRow) toDomain() (domain.BackupHeader, error) {
	h := domain.BackupHeader{
		BackupSetGUID:    uuid.UUID(r.BackupSetGUID),
		FamilyGUID:       uuid.UUID(r.FamilyGUID),
		DatabaseName:     r.DatabaseName,
		ServerName:       r.ServerName,
		BackupType:       domain.BackupType(r.BackupType),
		Position:         r.Position,
		BackupStartDate:  r.BackupStartDate,
		BackupFinishDate: r.BackupFinishDate,
		RecoveryModel:    r.RecoveryModel,
		IsCopyOnly:       r.IsCopyOnly,
		IsDamaged:        r.IsDamaged,
	}
	if r.DifferentialBaseGUID != nil {
		id := uuid.UUID(*r.DifferentialBaseGUID)
		h.DifferentialBaseGUID = &id
	}

	var err error
	lsns := []struct {
		dst **big.Int
		src sql.NullString
	}{
		{&h.FirstLSN, r.FirstLSN},
		{&h.LastLSN, r.LastLSN},
		{&h.CheckpointLSN, r.CheckpointLSN},
		{&h.DatabaseBackupLSN, r.DatabaseBackupLSN},
		{&h.DifferentialBaseLSN, r.DifferentialBaseLSN},
	}
	for _, l := range lsns {
		if *l.dst, err = nullLSN(l.src); err != nil {
			return h, err
		}
	}
	if h.FirstLSN == nil || h.LastLSN == nil {
		return h, fmt.Errorf("backup at position %d has no LSN range", h.Position)
	}

	return h, nil
}

// ReadHeaders runs RESTORE HEADERONLY over a backup set. Columns not needed
// by the domain are ignored.
func (c *Client) ReadHeaders(ctx context.Context, paths []string, device domain.DeviceType) ([]domain.BackupHeader, error) {
	if len(paths) == 0 {
		return nil, domain.ErrNoHeaders
	}

	var rows []headerRow
	if err := c.db.Unsafe().SelectContext(ctx, &rows, HeaderOnlyScript(paths, device)); err != nil {
		return nil, wrapError(err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNoHeaders
	}

	headers := make([]domain.BackupHeader, 0, len(rows))
	for _, r := range rows {
		h, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

type fileListRow struct {
	LogicalName   string                   `db:"LogicalName"`
	PhysicalName  string                   `db:"PhysicalName"`
	Type          string                   `db:"Type"`
	FileGroupName sql.NullString           `db:"FileGroupName"`
	FileGroupID   int                      `db:"FileGroupID"`
	UniqueID      mssqldb.UniqueIdentifier `db:"UniqueId"`
	IsReadOnly    bool                     `db:"IsReadOnly"`
	IsPresent     bool                     `db:"IsPresent"`
}

func (c *Client) ReadFileList(ctx context.Context, paths []string, device domain.DeviceType) ([]domain.FileListRow, error) {
	var rows []fileListRow
	if err := c.db.Unsafe().SelectContext(ctx, &rows, FileListOnlyScript(paths, device)); err != nil {
		return nil, wrapError(err)
	}

	list := make([]domain.FileListRow, 0, len(rows))
	for _, r := range rows {
		list = append(list, domain.FileListRow{
			LogicalName:   r.LogicalName,
			PhysicalName:  r.PhysicalName,
			Type:          r.Type,
			FileGroupName: r.FileGroupName.String,
			FileGroupID:   r.FileGroupID,
			UniqueID:      uuid.UUID(r.UniqueID),
			IsReadOnly:    r.IsReadOnly,
			IsPresent:     r.IsPresent,
		})
	}
	return list, nil
}

// RedoStartLSN returns the LSN the next log restore must cover.
func (c *Client) RedoStartLSN(ctx context.Context, db string) (*big.Int, error) {
	var lsn sql.NullString
	err := c.QueryScalar(ctx, &lsn, redoStartLSNQuery, sql.Named("db", db))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !lsn.Valid) {
		return nil, fmt.Errorf("no redo start LSN for database %s", db)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read redo start LSN for %s: %w", db, err)
	}
	return domain.ParseLSN(lsn.String)
}

type restoreTargetRow struct {
	Name             string       `db:"name"`
	BackupFinishDate sql.NullTime `db:"backup_finish_date"`
}

// ListRestoreTargets returns user databases in RESTORING or STANDBY state with
// the finish date of the last log restored to each.
func (c *Client) ListRestoreTargets(ctx context.Context) ([]domain.RestoreTarget, error) {
	var rows []restoreTargetRow
	if err := c.db.SelectContext(ctx, &rows, restoreTargetsQuery); err != nil {
		return nil, fmt.Errorf("failed to list restore targets: %w", wrapError(err))
	}

	targets := make([]domain.RestoreTarget, 0, len(rows))
	for _, r := range rows {
		t := domain.RestoreTarget{Name: r.Name}
		if r.BackupFinishDate.Valid {
			t.LastRestoredFinish = r.BackupFinishDate.Time
		}
		targets = append(targets, t)
	}
	return targets, nil
}

type databaseRow struct {
	Name          string `db:"name"`
	RecoveryModel int    `db:"recovery_model"`
	State         int    `db:"state"`
	IsInStandby   bool   `db:"is_in_standby"`
}

func (c *Client) ListDatabaseInfo(ctx context.Context) ([]domain.DatabaseInfo, error) {
	var rows []databaseRow
	if err := c.db.SelectContext(ctx, &rows, userDatabasesQuery); err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", wrapError(err))
	}

	infos := make([]domain.DatabaseInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, domain.DatabaseInfo{
			Name:          r.Name,
			RecoveryModel: domain.RecoveryModel(r.RecoveryModel),
			State:         domain.DatabaseState(r.State),
			IsInStandby:   r.IsInStandby,
		})
	}
	return infos, nil
}

func (c *Client) RestoreLog(ctx context.Context, r domain.LogRestore) error {
	return c.Exec(ctx, RestoreLogScript(r))
}

func (c *Client) RestoreStandby(ctx context.Context, db, standbyFile string) error {
	return c.Exec(ctx, StandbyScript(db, standbyFile))
}

func (c *Client) KillUserConnections(ctx context.Context, db string, rollbackAfter int) error {
	return c.Exec(ctx, KillUserConnectionsScript(db, rollbackAfter))
}
