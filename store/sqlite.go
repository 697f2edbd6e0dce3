package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions    = 0750
	sqliteBusyTimeout = 5000 // milliseconds
	connectionTimeout = 5 * time.Second
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exchanges (
	client_id  TEXT    NOT NULL,
	direction  INTEGER NOT NULL,
	packet_id  INTEGER NOT NULL,
	qos        INTEGER NOT NULL,
	stage      INTEGER NOT NULL,
	retries    INTEGER NOT NULL DEFAULT 0,
	sent       INTEGER NOT NULL DEFAULT 0,
	topic      TEXT    NOT NULL DEFAULT '',
	payload    BLOB,
	retain     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, direction, packet_id)
);
CREATE TABLE IF NOT EXISTS subscriptions (
	client_id           TEXT    NOT NULL,
	filter              TEXT    NOT NULL,
	qos                 INTEGER NOT NULL,
	no_local            INTEGER NOT NULL DEFAULT 0,
	retain_as_published INTEGER NOT NULL DEFAULT 0,
	retain_handling     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, filter)
);`

// SQLiteStore keeps session state in a SQLite database. Several clients
// may share one database file; rows are keyed by client identifier.
type SQLiteStore struct {
	db       *sql.DB
	clientID string
}

// NewSQLiteStore opens (creating if needed) the database at path in WAL
// mode and prepares the schema.
func NewSQLiteStore(path, clientID string) (*SQLiteStore, error) {
	if clientID == "" {
		return nil, fmt.Errorf("clientID cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, sqliteBusyTimeout)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, clientID: clientID}, nil
}

func (s *SQLiteStore) SaveExchange(e *Exchange) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO exchanges
		(client_id, direction, packet_id, qos, stage, retries, sent, topic, payload, retain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.clientID, e.Direction, e.PacketID, e.QoS, e.Stage, e.Retries, e.Sent, e.Topic, e.Payload, e.Retain)
	if err != nil {
		return fmt.Errorf("saving exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExchange(dir Direction, packetID uint16) error {
	_, err := s.db.Exec(`DELETE FROM exchanges WHERE client_id = ? AND direction = ? AND packet_id = ?`,
		s.clientID, dir, packetID)
	if err != nil {
		return fmt.Errorf("deleting exchange: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadExchanges() ([]*Exchange, error) {
	rows, err := s.db.Query(`SELECT direction, packet_id, qos, stage, retries, sent, topic, payload, retain
		FROM exchanges WHERE client_id = ? ORDER BY direction, packet_id`, s.clientID)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		e := &Exchange{}
		if err := rows.Scan(&e.Direction, &e.PacketID, &e.QoS, &e.Stage, &e.Retries, &e.Sent, &e.Topic, &e.Payload, &e.Retain); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSubscription(sub *Subscription) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO subscriptions
		(client_id, filter, qos, no_local, retain_as_published, retain_handling)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.clientID, sub.Filter, sub.QoS, sub.NoLocal, sub.RetainAsPublished, sub.RetainHandling)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSubscription(filter string) error {
	_, err := s.db.Exec(`DELETE FROM subscriptions WHERE client_id = ? AND filter = ?`, s.clientID, filter)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSubscriptions() ([]*Subscription, error) {
	rows, err := s.db.Query(`SELECT filter, qos, no_local, retain_as_published, retain_handling
		FROM subscriptions WHERE client_id = ? ORDER BY filter`, s.clientID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(&sub.Filter, &sub.QoS, &sub.NoLocal, &sub.RetainAsPublished, &sub.RetainHandling); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Clear() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM exchanges WHERE client_id = ?`, s.clientID); err != nil {
		return fmt.Errorf("clearing exchanges: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM subscriptions WHERE client_id = ?`, s.clientID); err != nil {
		return fmt.Errorf("clearing subscriptions: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
