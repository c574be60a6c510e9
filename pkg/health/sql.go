package health

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql" // registers "mysql"
	_ "github.com/lib/pq"              // registers "postgres"
	"github.com/pkg/errors"
)

// dbConnection is the subset of *sql.DB used by the probe.
type dbConnection interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDBConnection struct {
	db *sql.DB
}

func (c *sqlDBConnection) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *sqlDBConnection) Close() error {
	return c.db.Close()
}

// OpenSQLFunc opens a database handle; replaced in tests.
type OpenSQLFunc func(driverName, dsn string) (dbConnection, error)

func openSQLDB(driverName, dsn string) (dbConnection, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqlDBConnection{db: db}, nil
}

// SQLProbe runs SELECT 1 against a mysql or postgres server.
type SQLProbe struct {
	driver string
	dsn    string
	open   OpenSQLFunc

	mu sync.Mutex
	db dbConnection
}

func NewSQLProbe(driver, dsn string) (*SQLProbe, error) {
	return newSQLProbe(driver, dsn, openSQLDB)
}

func newSQLProbe(driver, dsn string, open OpenSQLFunc) (*SQLProbe, error) {
	if driver != "mysql" && driver != "postgres" {
		return nil, errors.Errorf("unsupported sql driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.Errorf("health %s missing dsn", driver)
	}
	return &SQLProbe{driver: driver, dsn: dsn, open: open}, nil
}

func (p *SQLProbe) Check(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.db == nil {
		db, err := p.open(p.driver, p.dsn)
		if err != nil {
			p.mu.Unlock()
			return "", errors.Wrapf(err, "open %s", p.driver)
		}
		p.db = db
	}
	db := p.db
	p.mu.Unlock()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return "", errors.Wrapf(err, "%s query", p.driver)
	}
	if one != 1 {
		return "", errors.Errorf("%s returned %d for SELECT 1", p.driver, one)
	}
	return p.driver + " ok", nil
}

func (p *SQLProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
