package engine

import (
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// DriverName is the SQLite driver with the source dialect's functions and
// LIKE semantics registered on every connection.
const DriverName = "sqlite3_ucanaccess"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: RegisterAccessFuncs,
	})
}

// RegisterAccessFuncs registers every emulated function, aggregate and the
// LIKE override on conn.
func RegisterAccessFuncs(conn *sqlite3.SQLiteConn) error {
	if err := registerDateTimeFuncs(conn); err != nil {
		return err
	}
	if err := registerStringFuncs(conn); err != nil {
		return err
	}
	if err := registerMathFuncs(conn); err != nil {
		return err
	}
	if err := registerConversionFuncs(conn); err != nil {
		return err
	}
	if err := registerAggregates(conn); err != nil {
		return err
	}
	return registerLike(conn)
}

type funcDef struct {
	name string
	impl interface{}
	pure bool
}

func registerFuncs(conn *sqlite3.SQLiteConn, funcs []funcDef) error {
	for _, f := range funcs {
		if err := conn.RegisterFunc(f.name, f.impl, f.pure); err != nil {
			return fmt.Errorf("failed to register function %s: %w", f.name, err)
		}
	}
	return nil
}
