package models

import (
	"time"

	"github.com/google/uuid"
)

// Supported database types for check targets.
const (
	DBTypePostgres   = "postgres"
	DBTypeMySQL      = "mysql"
	DBTypeSQLite     = "sqlite"
	DBTypeClickHouse = "clickhouse"
)

// DBConnection holds the connection details a test case references by id.
type DBConnection struct {
	ID         uuid.UUID `db:"id"          json:"db_connection_id"`
	DBType     string    `db:"db_type"     json:"db_type"`
	DBName     string    `db:"db_name"     json:"db_name"`
	DBHostname string    `db:"db_hostname" json:"db_hostname"`
	DBUsername string    `db:"db_username" json:"db_username"`
	DBPassword string    `db:"db_password" json:"-"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}
