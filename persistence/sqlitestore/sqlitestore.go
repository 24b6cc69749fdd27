// Package sqlitestore provides SQLite-based persistence for conversation records.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kschuler/agentrt/part"
	"github.com/kschuler/agentrt/persistence"
)

// SQLiteStore implements persistence.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite-based store at the given path. Use ":memory:" for
// an in-memory database.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    role          TEXT NOT NULL,
    message       TEXT NOT NULL,
    live          BOOLEAN NOT NULL,
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    timestamp     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_live ON records(live);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);

CREATE TABLE IF NOT EXISTS metrics (
    id                    INTEGER PRIMARY KEY CHECK (id = 1),
    compaction_count      INTEGER NOT NULL DEFAULT 0,
    last_compaction       DATETIME,
    cumulative_tokens     INTEGER NOT NULL DEFAULT 0,
    compaction_threshold  REAL NOT NULL DEFAULT 0.8
);
`
	_, err := s.db.Exec(schema)
	return err
}

func encodeMessage(m part.ChatMessage) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return string(data), nil
}

func decodeMessage(data string) (part.ChatMessage, error) {
	var m part.ChatMessage
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return part.ChatMessage{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, nil
}

// AddRecord implements persistence.Store.
func (s *SQLiteStore) AddRecord(record persistence.Record) (int64, error) {
	messageJSON, err := encodeMessage(record.Message)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO records (role, message, live, input_tokens, output_tokens, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		string(record.Message.Role), messageJSON, record.Live, record.InputTokens, record.OutputTokens, record.Timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get insert id: %w", err)
	}
	return id, nil
}

func scanRecord(scan func(dest ...any) error) (persistence.Record, error) {
	var r persistence.Record
	var messageJSON string
	if err := scan(&r.ID, &messageJSON, &r.Live, &r.InputTokens, &r.OutputTokens, &r.Timestamp); err != nil {
		return persistence.Record{}, fmt.Errorf("scan record: %w", err)
	}
	msg, err := decodeMessage(messageJSON)
	if err != nil {
		return persistence.Record{}, err
	}
	r.Message = msg
	return r, nil
}

func (s *SQLiteStore) queryRecords(query string, args ...any) ([]persistence.Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []persistence.Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// GetAllRecords implements persistence.Store.
func (s *SQLiteStore) GetAllRecords() ([]persistence.Record, error) {
	return s.queryRecords(`SELECT id, message, live, input_tokens, output_tokens, timestamp FROM records ORDER BY timestamp, id`)
}

// GetLiveRecords implements persistence.Store.
func (s *SQLiteStore) GetLiveRecords() ([]persistence.Record, error) {
	return s.queryRecords(`SELECT id, message, live, input_tokens, output_tokens, timestamp FROM records WHERE live = 1 ORDER BY timestamp, id`)
}

// UpdateRecord implements persistence.Store.
func (s *SQLiteStore) UpdateRecord(id int64, record persistence.Record) error {
	messageJSON, err := encodeMessage(record.Message)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE records SET role = ?, message = ?, live = ?, input_tokens = ?, output_tokens = ?, timestamp = ? WHERE id = ?`,
		string(record.Message.Role), messageJSON, record.Live, record.InputTokens, record.OutputTokens, record.Timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// MarkRecordDead implements persistence.Store.
func (s *SQLiteStore) MarkRecordDead(id int64) error {
	_, err := s.db.Exec(`UPDATE records SET live = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark record dead: %w", err)
	}
	return nil
}

// MarkRecordLive implements persistence.Store.
func (s *SQLiteStore) MarkRecordLive(id int64) error {
	_, err := s.db.Exec(`UPDATE records SET live = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark record live: %w", err)
	}
	return nil
}

// DeleteRecord implements persistence.Store.
func (s *SQLiteStore) DeleteRecord(id int64) error {
	_, err := s.db.Exec(`DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Clear implements persistence.Store.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM metrics`); err != nil {
		return fmt.Errorf("reset metrics: %w", err)
	}
	return nil
}

// Close implements persistence.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMetrics implements persistence.Store.
func (s *SQLiteStore) SaveMetrics(metrics persistence.SessionMetrics) error {
	var lastCompaction *time.Time
	if !metrics.LastCompaction.IsZero() {
		lastCompaction = &metrics.LastCompaction
	}

	_, err := s.db.Exec(
		`INSERT INTO metrics (id, compaction_count, last_compaction, cumulative_tokens, compaction_threshold)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			compaction_count = excluded.compaction_count,
			last_compaction = excluded.last_compaction,
			cumulative_tokens = excluded.cumulative_tokens,
			compaction_threshold = excluded.compaction_threshold`,
		metrics.CompactionCount, lastCompaction, metrics.CumulativeTokens, metrics.CompactionThreshold,
	)
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

// LoadMetrics implements persistence.Store.
func (s *SQLiteStore) LoadMetrics() (persistence.SessionMetrics, error) {
	var metrics persistence.SessionMetrics
	var lastCompaction sql.NullTime

	err := s.db.QueryRow(
		`SELECT compaction_count, last_compaction, cumulative_tokens, compaction_threshold FROM metrics WHERE id = 1`,
	).Scan(&metrics.CompactionCount, &lastCompaction, &metrics.CumulativeTokens, &metrics.CompactionThreshold)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.SessionMetrics{CompactionThreshold: 0.8}, nil
		}
		return metrics, fmt.Errorf("load metrics: %w", err)
	}

	if lastCompaction.Valid {
		metrics.LastCompaction = lastCompaction.Time
	}
	return metrics, nil
}
