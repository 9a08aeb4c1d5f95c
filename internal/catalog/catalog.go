// Package catalog is the durable ledger of backup, restore and alert
// records, backed by the catalog Postgres database.
package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB defines the database operations used by catalog services.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Elevated marks a call as an explicit platform-scope operation that may
// read rows across tenants. There is no process-wide bypass flag: every
// cross-tenant query takes this token, and the reason is carried for
// audit logging.
type Elevated struct {
	Reason string
}

// Services bundles the catalog services over one DB handle.
type Services struct {
	Records  *RecordService
	Restores *RestoreLogService
	Alerts   *AlertService
}

func NewServices(db DB) *Services {
	return &Services{
		Records:  NewRecordService(db),
		Restores: NewRestoreLogService(db),
		Alerts:   NewAlertService(db),
	}
}
