// Package dbconn opens query handles against the source and target databases
// a test case points at.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// ErrUnsupportedDBType is returned for a db_type no driver is registered for.
var ErrUnsupportedDBType = errors.New("unsupported database type")

const defaultClickHousePort = "9000"

// Provider opens a live handle for a stored connection record.
// Callers own the returned *sql.DB and must Close it.
type Provider interface {
	Open(ctx context.Context, conn *models.DBConnection) (*sql.DB, error)
}

// OpenFunc creates an unconnected handle for a normalized db type.
type OpenFunc func(dbType string, conn *models.DBConnection) (*sql.DB, error)

// Options configure a Connector.
type Options struct {
	ConnectTimeout  time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	// Open overrides driver selection. Used by tests to inject sqlmock handles.
	Open OpenFunc
}

// Connector implements Provider using database/sql drivers, with one circuit
// breaker per database host.
type Connector struct {
	opts Options

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewConnector creates a Connector. Zero option values fall back to defaults.
func NewConnector(opts Options) *Connector {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Open == nil {
		opts.Open = openDriver
	}
	return &Connector{
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Open returns a pinged handle for conn. Repeated failures against the same
// host open that host's breaker and fail fast with gobreaker.ErrOpenState.
func (c *Connector) Open(ctx context.Context, conn *models.DBConnection) (*sql.DB, error) {
	dbType, err := NormalizeType(conn.DBType)
	if err != nil {
		return nil, err
	}

	cb := c.breaker(dbType, conn.DBHostname)
	res, err := cb.Execute(func() (interface{}, error) {
		db, err := c.opts.Open(dbType, conn)
		if err != nil {
			return nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s connection to %q: %w", dbType, conn.DBName, err)
	}
	return res.(*sql.DB), nil
}

func (c *Connector) breaker(dbType, host string) *gobreaker.CircuitBreaker {
	key := dbType + "|" + strings.ToLower(host)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[key]; ok {
		return cb
	}

	failures := uint32(c.opts.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     c.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller giving up says nothing about the host.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("connection breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	c.breakers[key] = cb
	return cb
}

// NormalizeType maps a stored db_type to one of the models.DBType constants.
func NormalizeType(dbType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case models.DBTypePostgres, "postgresql", "pg":
		return models.DBTypePostgres, nil
	case models.DBTypeMySQL, "mariadb":
		return models.DBTypeMySQL, nil
	case models.DBTypeSQLite, "sqlite3":
		return models.DBTypeSQLite, nil
	case models.DBTypeClickHouse, "ch":
		return models.DBTypeClickHouse, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDBType, dbType)
	}
}

func openDriver(dbType string, conn *models.DBConnection) (*sql.DB, error) {
	switch dbType {
	case models.DBTypePostgres:
		return sql.Open("pgx", PostgresDSN(conn))
	case models.DBTypeMySQL:
		connector, err := mysql.NewConnector(MySQLConfig(conn))
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	case models.DBTypeSQLite:
		return sql.Open("sqlite3", SQLiteDSN(conn))
	case models.DBTypeClickHouse:
		return clickhouse.OpenDB(ClickHouseOptions(conn)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDBType, dbType)
	}
}

// PostgresDSN builds a pgx connection URL.
func PostgresDSN(conn *models.DBConnection) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.DBUsername, conn.DBPassword),
		Host:   strings.ToLower(conn.DBHostname),
		Path:   "/" + conn.DBName,
	}
	return u.String()
}

// MySQLConfig builds a go-sql-driver config. A host without a port gets the driver default.
func MySQLConfig(conn *models.DBConnection) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = conn.DBUsername
	cfg.Passwd = conn.DBPassword
	cfg.Net = "tcp"
	cfg.Addr = strings.ToLower(conn.DBHostname)
	cfg.DBName = conn.DBName
	cfg.ParseTime = true
	return cfg
}

// SQLiteDSN treats db_name as the database file path. The path is escaped
// so '?' and '#' in a file name cannot inject URI parameters.
func SQLiteDSN(conn *models.DBConnection) string {
	u := url.URL{
		Scheme:   "file",
		Opaque:   (&url.URL{Path: conn.DBName}).EscapedPath(),
		RawQuery: "mode=ro",
	}
	return u.String()
}

// ClickHouseOptions builds clickhouse-go options over the native protocol.
func ClickHouseOptions(conn *models.DBConnection) *clickhouse.Options {
	addr := strings.ToLower(conn.DBHostname)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultClickHousePort)
	}
	return &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: conn.DBName,
			Username: conn.DBUsername,
			Password: conn.DBPassword,
		},
		DialTimeout: 10 * time.Second,
	}
}
