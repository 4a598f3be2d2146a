package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// likePrefix turns a literal key prefix into a LIKE pattern, escaping the
// wildcard characters with a backslash. Keys such as
// "otai_active_session_" contain underscores that LIKE would otherwise
// treat as single-character wildcards.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

// scanValue reads a single value column, mapping sql.ErrNoRows to found=false.
func scanValue(row *sql.Row, key string) (string, bool, error) {
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// scanKeys collects the key column of every row.
func scanKeys(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate key rows: %w", err)
	}
	return keys, nil
}
