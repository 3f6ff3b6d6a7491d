package flowsentry

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver registration
)

// SQLEventStore implements EventStore on SQLite, giving deployments a
// queryable event trail without an external database.
type SQLEventStore struct {
	db *sqlx.DB
}

const eventSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	id        TEXT PRIMARY KEY,
	rule      TEXT NOT NULL,
	option    TEXT NOT NULL,
	source    TEXT NOT NULL,
	src_ip    TEXT,
	dst_ip    TEXT,
	recorded  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_recorded ON alerts(recorded);

CREATE TABLE IF NOT EXISTS file_events (
	id        TEXT PRIMARY KEY,
	source    TEXT NOT NULL,
	file_name TEXT,
	file_size INTEGER NOT NULL,
	type_id   INTEGER NOT NULL,
	type_name TEXT,
	sha256    BLOB,
	upload    BOOLEAN NOT NULL,
	recorded  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_events_recorded ON file_events(recorded);
`

// NewSQLEventStore opens (creating if needed) the SQLite database at path.
func NewSQLEventStore(path string) (*SQLEventStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}
	// SQLite writes are serialized; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create event schema: %w", err)
	}
	return &SQLEventStore{db: db}, nil
}

func (s *SQLEventStore) SaveAlert(ev *AlertEvent) error {
	_, err := s.db.NamedExec(`
		INSERT INTO alerts (id, rule, option, source, src_ip, dst_ip, recorded)
		VALUES (:id, :rule, :option, :source, :src_ip, :dst_ip, :recorded)`, ev)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *SQLEventStore) SaveFileEvent(ev *FileEvent) error {
	_, err := s.db.NamedExec(`
		INSERT INTO file_events (id, source, file_name, file_size, type_id, type_name, sha256, upload, recorded)
		VALUES (:id, :source, :file_name, :file_size, :type_id, :type_name, :sha256, :upload, :recorded)`, ev)
	if err != nil {
		return fmt.Errorf("failed to insert file event: %w", err)
	}
	return nil
}

func (s *SQLEventStore) RecentAlerts(limit int) ([]*AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*AlertEvent
	err := s.db.Select(&events, `
		SELECT id, rule, option, source, src_ip, dst_ip, recorded
		FROM alerts ORDER BY recorded DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return events, nil
}

func (s *SQLEventStore) RecentFileEvents(limit int) ([]*FileEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*FileEvent
	err := s.db.Select(&events, `
		SELECT id, source, file_name, file_size, type_id, type_name, sha256, upload, recorded
		FROM file_events ORDER BY recorded DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query file events: %w", err)
	}
	return events, nil
}

func (s *SQLEventStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *SQLEventStore) Close() error {
	return s.db.Close()
}
