package dataflow

import (
	"fmt"
	"net/url"
	"strings"

	// Blank-imported so their driver names (postgres/mysql/sqlite) are
	// registered with database/sql before Open below ever calls sql.Open.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/dataflow/dialect"
	dsql "github.com/syssam/dataflow/dialect/sql"
)

// Open parses a DataFlow connection string (see ParseDatabaseURL) and
// returns a pooled dialect.Driver for the matching SQL-relational dialect.
// The mongodb/mongodb+srv schemes are rejected here: the document-family
// adapter exists only at the dialect.Driver interface boundary and has no
// concrete implementation in this module.
func Open(raw string) (dialect.Driver, error) {
	u, err := ParseDatabaseURL(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "postgresql", "postgres":
		return dsql.Open(dialect.Postgres, postgresDSN(u))
	case "mysql":
		return dsql.Open(dialect.MySQL, mysqlDSN(u))
	case "sqlite":
		return dsql.Open(dialect.SQLite, sqliteSource(u.Database))
	default:
		return nil, fmt.Errorf("dataflow: %q has no concrete driver wired in this module (adapter boundary only)", u.Scheme)
	}
}

// sqliteSource normalizes the path ParseDatabaseURL produces for the
// sqlite scheme into what modernc.org/sqlite expects to open. A URL's
// path always carries a leading slash (sqlite:///:memory: parses to
// "/:memory:"), which is correct for an absolute file path but must be
// stripped for the ":memory:" token, the one case where SQLite treats
// the string as a marker rather than a filesystem path.
func sqliteSource(path string) string {
	if trimmed := strings.TrimPrefix(path, "/"); trimmed == ":memory:" {
		return trimmed
	}
	return path
}

// postgresDSN rebuilds a lib/pq-compatible connection string; lib/pq
// accepts the same postgres:// URL form DataFlow's own connection string
// uses, so this is a direct passthrough with the scheme normalized.
func postgresDSN(u *DatabaseURL) string {
	ur := &url.URL{Scheme: "postgres", Host: u.Host}
	if u.Port != "" {
		ur.Host = u.Host + ":" + u.Port
	}
	if u.User != "" {
		if u.Password != "" {
			ur.User = url.UserPassword(u.User, u.Password)
		} else {
			ur.User = url.User(u.User)
		}
	}
	ur.Path = "/" + u.Database
	ur.RawQuery = u.Query.Encode()
	return ur.String()
}

// mysqlDSN renders the go-sql-driver/mysql DSN shape:
// user:pass@tcp(host:port)/dbname?params.
func mysqlDSN(u *DatabaseURL) string {
	var b strings.Builder
	if u.User != "" {
		b.WriteString(u.User)
		if u.Password != "" {
			b.WriteByte(':')
			b.WriteString(u.Password)
		}
		b.WriteByte('@')
	}
	host := u.Host
	if u.Port != "" {
		host = host + ":" + u.Port
	}
	fmt.Fprintf(&b, "tcp(%s)/%s", host, u.Database)
	if len(u.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(u.Query.Encode())
	}
	return b.String()
}
