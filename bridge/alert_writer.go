package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// AlertWriter journals threshold alerts into MySQL
type AlertWriter struct {
	table  string
	db     *sql.DB
	mu     sync.Mutex
	stmt   *sql.Stmt
	logger *zap.SugaredLogger
}

func (w *AlertWriter) prepareStmt(ctx context.Context) (*sql.Stmt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stmt != nil {
		return w.stmt, nil
	}

	var err error

	query := "INSERT INTO `" + w.table + "` (`value`, `timestamp`, `violations`, `raised_at`) " +
		"VALUES (?, ?, ?, ?)"

	w.stmt, err = w.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("AlertWriter: %s", err)
	}

	return w.stmt, nil
}

// HandleAlert inserts a single alert
func (w *AlertWriter) HandleAlert(ctx context.Context, alert Alert) error {
	stmt, err := w.prepareStmt(ctx)
	if err != nil {
		return err
	}

	// the producer timestamp is kept as supplied
	ts, err := json.Marshal(alert.Timestamp)
	if err != nil {
		return fmt.Errorf("AlertWriter: %s", err)
	}

	_, err = stmt.ExecContext(ctx, alert.Value, string(ts), alert.Violations, alert.RaisedAt)
	if err != nil {
		return fmt.Errorf("AlertWriter: %s", err)
	}

	w.logger.Debugf("alert writer: stored alert for value %v", alert.Value)

	return nil
}

// Close releases the prepared statement
func (w *AlertWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stmt == nil {
		return nil
	}
	err := w.stmt.Close()
	w.stmt = nil

	return err
}

// NewAlertWriter creates a new AlertWriter
func NewAlertWriter(table string, db *sql.DB, logger *zap.SugaredLogger) *AlertWriter {
	return &AlertWriter{
		table:  table,
		db:     db,
		logger: logger,
	}
}
