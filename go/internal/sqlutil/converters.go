package sqlutil

import (
	"database/sql"
	"time"
)

// Helper functions for converting between Go types and sql.Null* types

// ToSqlString converts an empty Go string to a NULL column value
func ToSqlString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromSqlString converts sql.NullString to Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// ToSqlTime stores times as UTC RFC3339Nano text; the zero time becomes NULL
func ToSqlTime(val time.Time) sql.NullString {
	if val.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val.UTC().Format(time.RFC3339Nano), Valid: true}
}

// FromSqlTime parses a column written by ToSqlTime
func FromSqlTime(val sql.NullString) (time.Time, error) {
	if !val.Valid || val.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, val.String)
}
