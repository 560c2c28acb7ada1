package mssql

import (
	"errors"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/semmidev/logship/internal/domain"
)

// errGeneric is raised by SQL Server after a specific RESTORE error and
// carries no information of its own.
const errGeneric int32 = 3013

// wrapError converts driver errors into *domain.BackendError. The driver
// reports the last message of a batch, which for RESTORE is usually 3013;
// the first specific number is used instead.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var sqlErr mssqldb.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	number := sqlErr.Number
	for _, e := range sqlErr.All {
		if e.Number != errGeneric {
			number = e.Number
			break
		}
	}

	return &domain.BackendError{Number: number, Err: err}
}
