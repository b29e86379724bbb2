package repository

import (
	"strconv"
	"strings"
)

// Dialect selects the placeholder syntax of the configured driver.
type Dialect int

const (
	// DialectPostgres uses $1, $2, ... placeholders.
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders.
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) Dialect {
	if driver == "sqlite" || driver == "sqlite3" {
		return DialectSQLite
	}
	return DialectPostgres
}

// Rebind rewrites ? placeholders for the dialect. Queries in this package
// contain no literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
