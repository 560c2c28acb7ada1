package mssql

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/semmidev/logship/internal/domain"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
)

var headerColumns = []string{
	"BackupName", "BackupType", "Position", "DatabaseName", "ServerName",
	"FirstLSN", "LastLSN", "CheckpointLSN", "DatabaseBackupLSN", "DifferentialBaseLSN",
	"BackupStartDate", "BackupFinishDate", "RecoveryModel", "IsCopyOnly", "IsDamaged",
	"BackupSetGUID", "FamilyGUID", "DifferentialBaseGUID", "Collation",
}

func guidBytes() []byte {
	b := make([]byte, 16)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newMockClient() (*Client, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	So(err, ShouldBeNil)
	return New(sqlx.NewDb(db, "sqlserver"), zap.NewNop().Sugar()), mock, func() { db.Close() }
}

func TestReadHeaders(t *testing.T) {
	Convey("Given a client over a mocked destination", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

		Convey("When the file holds one log backup", func() {
			rows := sqlmock.NewRows(headerColumns).AddRow(
				"log", 2, 1, "sales", "PRIMARY01",
				"42000000001600001", "42000000003200001", "42000000001600001", "41000000000100001", nil,
				start, start.Add(time.Second), "FULL", false, false,
				guidBytes(), guidBytes(), nil, "Latin1_General_CI_AS",
			)
			mock.ExpectQuery(regexp.QuoteMeta("RESTORE HEADERONLY\nFROM DISK = N'/b/sales_1.trn'")).WillReturnRows(rows)

			headers, err := client.ReadHeaders(ctx, []string{"/b/sales_1.trn"}, domain.DeviceDisk)

			Convey("It should map the row to a header", func() {
				So(err, ShouldBeNil)
				So(len(headers), ShouldEqual, 1)

				h := headers[0]
				So(h.DatabaseName, ShouldEqual, "sales")
				So(h.BackupType, ShouldEqual, domain.BackupTypeTransactionLog)
				So(h.Position, ShouldEqual, 1)
				So(h.FirstLSN.String(), ShouldEqual, "42000000001600001")
				So(h.LastLSN.String(), ShouldEqual, "42000000003200001")
				So(h.DifferentialBaseLSN, ShouldBeNil)
				So(h.DifferentialBaseGUID, ShouldBeNil)
				So(h.BackupSetGUID.String(), ShouldEqual, "03020100-0504-0706-0809-0a0b0c0d0e0f")
				So(h.BackupFinishDate, ShouldEqual, start.Add(time.Second))
				So(mock.ExpectationsWereMet(), ShouldBeNil)
			})
		})

		Convey("When the query returns no rows", func() {
			mock.ExpectQuery("RESTORE HEADERONLY").WillReturnRows(sqlmock.NewRows(headerColumns))

			_, err := client.ReadHeaders(ctx, []string{"https://acct/c/x.trn"}, domain.DeviceURL)

			Convey("It should return ErrNoHeaders", func() {
				So(errors.Is(err, domain.ErrNoHeaders), ShouldBeTrue)
			})
		})

		Convey("When the backup is damaged on disk", func() {
			mock.ExpectQuery("RESTORE HEADERONLY").WillReturnError(mssqldb.Error{Number: 3203, Message: "read failure"})

			_, err := client.ReadHeaders(ctx, []string{"/b/x.trn"}, domain.DeviceDisk)

			Convey("It should carry the error number", func() {
				So(domain.ErrorNumber(err), ShouldEqual, 3203)
			})
		})
	})
}

func TestReadFileList(t *testing.T) {
	Convey("Given a full backup", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		cols := []string{"LogicalName", "PhysicalName", "Type", "FileGroupName", "FileID", "FileGroupID", "UniqueId", "IsReadOnly", "IsPresent"}
		mock.ExpectQuery(regexp.QuoteMeta("RESTORE FILELISTONLY")).WillReturnRows(
			sqlmock.NewRows(cols).
				AddRow("sales", `D:\data\sales.mdf`, "D", "PRIMARY", 1, 1, guidBytes(), false, true).
				AddRow("sales_log", `L:\log\sales.ldf`, "L", nil, 2, 0, guidBytes(), false, true),
		)

		rows, err := client.ReadFileList(ctx, []string{"/b/full_1.bak", "/b/full_2.bak"}, domain.DeviceDisk)

		So(err, ShouldBeNil)
		So(len(rows), ShouldEqual, 2)
		So(rows[0].FileGroupName, ShouldEqual, "PRIMARY")
		So(rows[1].Type, ShouldEqual, "L")
		So(rows[1].FileGroupName, ShouldEqual, "")
	})
}

func TestRedoStartLSN(t *testing.T) {
	Convey("Given a restoring database", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		Convey("When the LSN is present", func() {
			mock.ExpectQuery("FROM sys.master_files").
				WithArgs(sql.Named("db", "sales")).
				WillReturnRows(sqlmock.NewRows([]string{"redo_start_lsn"}).AddRow("42000000003200001"))

			lsn, err := client.RedoStartLSN(ctx, "sales")

			So(err, ShouldBeNil)
			So(lsn.String(), ShouldEqual, "42000000003200001")
		})

		Convey("When the database does not exist", func() {
			mock.ExpectQuery("FROM sys.master_files").
				WithArgs(sql.Named("db", "missing")).
				WillReturnRows(sqlmock.NewRows([]string{"redo_start_lsn"}))

			_, err := client.RedoStartLSN(ctx, "missing")

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "no redo start LSN")
		})
	})
}

func TestListRestoreTargets(t *testing.T) {
	Convey("Given databases in RESTORING state", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		finish := time.Date(2024, 5, 1, 9, 45, 0, 0, time.UTC)
		mock.ExpectQuery("FROM sys.databases").WillReturnRows(
			sqlmock.NewRows([]string{"name", "backup_finish_date"}).
				AddRow("sales", finish).
				AddRow("hr", nil),
		)

		targets, err := client.ListRestoreTargets(ctx)

		So(err, ShouldBeNil)
		So(targets, ShouldResemble, []domain.RestoreTarget{
			{Name: "sales", LastRestoredFinish: finish},
			{Name: "hr"},
		})
	})
}

func TestListDatabaseInfo(t *testing.T) {
	Convey("Given user databases", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		mock.ExpectQuery("FROM sys.databases").WillReturnRows(
			sqlmock.NewRows([]string{"name", "recovery_model", "state", "is_in_standby"}).
				AddRow("sales", 1, 1, true),
		)

		infos, err := client.ListDatabaseInfo(ctx)

		So(err, ShouldBeNil)
		So(infos[0].State, ShouldEqual, domain.StateRestoring)
		So(infos[0].RecoveryModel, ShouldEqual, domain.RecoveryFull)
		So(infos[0].IsInStandby, ShouldBeTrue)
	})
}

func TestRestoreStatements(t *testing.T) {
	Convey("Given a client over a mocked destination", t, func() {
		ctx := context.Background()
		client, mock, closeDB := newMockClient()
		defer closeDB()

		Convey("RestoreLog should run the restore statement", func() {
			mock.ExpectExec(regexp.QuoteMeta("RESTORE LOG [sales] FROM DISK = N'/b/1.trn' WITH NORECOVERY, FILE = 1")).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := client.RestoreLog(ctx, domain.LogRestore{Database: "sales", File: "/b/1.trn", Device: domain.DeviceDisk, Position: 1})

			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("RestoreLog should report the specific error number", func() {
			mock.ExpectExec("RESTORE LOG").WillReturnError(mssqldb.Error{
				Number: 3013,
				All:    []mssqldb.Error{{Number: 4326}, {Number: 3013}},
			})

			err := client.RestoreLog(ctx, domain.LogRestore{Database: "sales", File: "/b/1.trn", Device: domain.DeviceDisk})

			So(domain.ErrorNumber(err), ShouldEqual, 4326)
		})

		Convey("RestoreStandby should run the standby statement", func() {
			mock.ExpectExec(regexp.QuoteMeta("WITH STANDBY = 'S:\\sales.bak'")).WillReturnResult(sqlmock.NewResult(0, 0))

			So(client.RestoreStandby(ctx, "sales", `S:\sales.bak`), ShouldBeNil)
		})

		Convey("KillUserConnections should switch to single user", func() {
			mock.ExpectExec(regexp.QuoteMeta("SET SINGLE_USER WITH ROLLBACK AFTER 30")).WillReturnResult(sqlmock.NewResult(0, 0))

			So(client.KillUserConnections(ctx, "sales", 30), ShouldBeNil)
		})
	})
}
