package database

import (
	"database/sql"
	"time"
)

// Row is a single result row keyed by column name. The data layer is
// schema-agnostic, so callers read columns by name instead of scanning into
// fixed structs. Typed accessors are provided for call sites that know the
// target shape.
type Row map[string]any

// String returns the column as a string. The second return value is false
// when the column is absent or NULL.
func (r Row) String(column string) (string, bool) {
	switch v := r[column].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Int returns the column as an int64.
func (r Row) Int(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns the column as a float64. Integer values are widened.
func (r Row) Float(column string) (float64, bool) {
	switch v := r[column].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Bool returns the column as a bool. SQLite stores booleans as integers.
func (r Row) Bool(column string) (bool, bool) {
	switch v := r[column].(type) {
	case bool:
		return v, true
	case int64:
		return v != 0, true
	default:
		return false, false
	}
}

// Time returns the column as a time.Time.
func (r Row) Time(column string) (time.Time, bool) {
	if v, ok := r[column].(time.Time); ok {
		return v, true
	}
	return time.Time{}, false
}

// IsNull reports whether the column is present but NULL.
func (r Row) IsNull(column string) bool {
	v, ok := r[column]
	return ok && v == nil
}

// collectRows materializes a cursor into an ordered slice of Rows so results
// can be cached and iterated after the connection goes back to the pool.
func collectRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			// Copy []byte so the row survives driver buffer reuse.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}
