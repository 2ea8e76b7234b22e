package ucanaccess

import (
	"database/sql"

	"github.com/notzippy/ucanaccess-code/coordinator"
	"github.com/notzippy/ucanaccess-code/translate"
)

// Rows is the result of a query. Column names are reported as the file
// names, not the engine names they were translated to.
type Rows struct {
	rows *sql.Rows
	st   *translate.Statement
	// stmt is set for rows of a prepared statement so closing them honors
	// CloseOnCompletion.
	stmt *coordinator.Prepared
	cols []string
}

func newRows(rows *sql.Rows, st *translate.Statement, stmt *coordinator.Prepared) *Rows {
	return &Rows{rows: rows, st: st, stmt: stmt}
}

// Columns returns the result column names.
func (r *Rows) Columns() ([]string, error) {
	if r.cols != nil {
		return r.cols, nil
	}
	names, err := r.rows.Columns()
	if err != nil {
		return nil, convert(err)
	}
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = r.st.SourceColumn(n)
	}
	r.cols = cols
	return cols, nil
}

// Next advances to the next row.
func (r *Rows) Next() bool {
	return r.rows.Next()
}

// Scan copies the current row into dest.
func (r *Rows) Scan(dest ...interface{}) error {
	return toError(r.rows.Scan(dest...))
}

// Values returns the current row as engine values.
func (r *Rows) Values() ([]interface{}, error) {
	cols, err := r.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, convert(err)
	}
	return vals, nil
}

// Map returns the current row keyed by column name.
func (r *Rows) Map() (map[string]interface{}, error) {
	vals, err := r.Values()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(vals))
	for i, c := range r.cols {
		out[c] = vals[i]
	}
	return out, nil
}

// Err is the error, if any, met during iteration.
func (r *Rows) Err() error {
	return toError(r.rows.Err())
}

// Close releases the rows.
func (r *Rows) Close() error {
	if r.stmt != nil {
		return toError(r.stmt.CloseRows(r.rows))
	}
	return toError(r.rows.Close())
}
