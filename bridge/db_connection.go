package bridge

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/avast/retry-go"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var tableNameRegex = regexp.MustCompile(`^\w+$`)

// MySQLConfig represents the MySQL configuration
type MySQLConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Enabled reports whether a database is configured
func (c MySQLConfig) Enabled() bool {
	return c.DSN != ""
}

// NewDbConnection opens a new connection using the configured DSN and
// waits until the server answers
func NewDbConnection(config MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %s", err)
	}

	err = retry.Do(
		db.Ping,
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection error: %s", err)
	}

	return db, nil
}
