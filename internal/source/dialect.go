package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect covers the SQL differences between the supported legacy servers.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// Rebind rewrites "?" placeholders into the driver's syntax.
	Rebind(query string) string
	// Paginate appends a page clause to a query that already has ORDER BY.
	Paginate(query string, limit, offset int) string
	// BindValue converts a value scanned from a row into the form that
	// compares equal to the stored value when bound back as a parameter.
	BindValue(v any) any
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlserver":
		return SQLServer{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported legacy driver %q", driver)
}

// SQLServer uses @pN placeholders and OFFSET/FETCH paging.
type SQLServer struct{}

func (SQLServer) DriverName() string { return "sqlserver" }

func (SQLServer) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (SQLServer) Paginate(query string, limit, offset int) string {
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", query, offset, limit)
}

func (SQLServer) BindValue(v any) any { return v }

// MySQL uses "?" placeholders and LIMIT/OFFSET paging.
type MySQL struct{}

func (MySQL) DriverName() string         { return "mysql" }
func (MySQL) Rebind(query string) string { return query }
func (MySQL) Paginate(query string, limit, offset int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}
func (MySQL) BindValue(v any) any { return v }

// SQLite matches MySQL paging. DATETIME columns are stored as text.
type SQLite struct{}

// sqliteTimeLayout is how legacy exports write DATETIME text.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

func (SQLite) DriverName() string         { return "sqlite3" }
func (SQLite) Rebind(query string) string { return query }
func (SQLite) Paginate(query string, limit, offset int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}

// BindValue formats times back into stored text. go-sqlite3 would bind a
// time.Time with a zone suffix, which never equals the stored text.
func (SQLite) BindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return v
}
