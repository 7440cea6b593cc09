package sqlstore

import (
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/errors"
)

// flavor holds the statements that differ between SQL engines.
type flavor struct {
	driver  string
	dialect query.Dialect

	docType string
	idType  string
	upsert  string

	// DDL can run inside an open transaction without committing it.
	transactionalDDL bool
	numbered         bool
}

//nolint:gochecknoglobals
var flavors = map[string]flavor{
	"sqlite": {
		driver:           "sqlite",
		dialect:          query.SQLite,
		docType:          "TEXT",
		idType:           "TEXT",
		upsert:           " ON CONFLICT(id) DO UPDATE SET doc = excluded.doc",
		transactionalDDL: true,
	},
	"postgres": {
		driver:           "postgres",
		dialect:          query.Postgres,
		docType:          "JSONB",
		idType:           "TEXT",
		upsert:           " ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc",
		transactionalDDL: true,
		numbered:         true,
	},
	"mysql": {
		driver:  "mysql",
		dialect: query.MySQL,
		docType: "JSON",
		idType:  "VARCHAR(255)",
		upsert:  " ON DUPLICATE KEY UPDATE doc = VALUES(doc)",
	},
}

// arg renders the i-th (1-based) bind parameter.
func (f *flavor) arg(i int) string {
	if f.numbered {
		return "$" + strconv.Itoa(i)
	}

	return "?"
}

func (f *flavor) table(name string) string {
	return f.dialect.Ident(name)
}

func (f *flavor) createTable(name string) string {
	return "CREATE TABLE IF NOT EXISTS " + f.table(name) +
		" (id " + f.idType + " PRIMARY KEY, doc " + f.docType + " NOT NULL)"
}

func (f *flavor) insert(name string) string {
	return "INSERT INTO " + f.table(name) + " (id, doc) VALUES (" + f.arg(1) + ", " + f.arg(2) + ")"
}

func (f *flavor) upsertStmt(name string) string {
	return f.insert(name) + f.upsert
}

func (f *flavor) update(name string) string {
	return "UPDATE " + f.table(name) + " SET doc = " + f.arg(1) + " WHERE id = " + f.arg(2)
}

func (f *flavor) delete(name string) string {
	return "DELETE FROM " + f.table(name) + " WHERE id = " + f.arg(1)
}

func (f *flavor) selectDoc(name string) string {
	return "SELECT doc FROM " + f.table(name) + " WHERE id = " + f.arg(1)
}

// dsn strips URI schemes the drivers do not understand.
func (f *flavor) dsn(uri string) (string, error) {
	switch f.driver {
	case "mysql":
		uri = strings.TrimPrefix(uri, "mysql://")

		_, err := mysql.ParseDSN(uri)
		if err != nil {
			return "", errors.Wrap(err, "parse mysql dsn")
		}
	case "sqlite":
		uri = strings.TrimPrefix(uri, "sqlite://")
	}

	return uri, nil
}

// isDuplicate reports a primary key violation.
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062 //nolint:mnd
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	return false
}

func validTable(name string) bool {
	return name != "" && !strings.ContainsAny(name, "\"`'\x00")
}
