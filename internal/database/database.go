package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vincentbai/formshot-agent/internal/models"
	"github.com/vincentbai/formshot-agent/internal/snapshot"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

var ErrNotFound = errors.New("shot not found")

type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS shots(
	  time_ms     INTEGER PRIMARY KEY,
	  url         TEXT    NOT NULL,
	  origin      TEXT    NOT NULL,
	  signature   TEXT    NOT NULL,
	  field_count INTEGER NOT NULL,
	  data_json   TEXT    NOT NULL CHECK (json_valid(data_json) AND json_type(data_json) = 'array')
	);
	CREATE INDEX IF NOT EXISTS idx_shots_origin ON shots(origin, time_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Origin returns scheme://host[:port] of a page URL, the key shots are
// filtered by.
func Origin(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("URL has no scheme: %q", pageURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

func (d *Database) ValidateShot(shot models.Shot) error {
	if shot.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if _, err := Origin(shot.URL); err != nil {
		return err
	}
	if shot.Time <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	if shot.Data == nil {
		return fmt.Errorf("data cannot be null")
	}
	return nil
}

// InsertShots stores shots in one transaction; either all are stored or none.
func (d *Database) InsertShots(shots []models.Shot) error {
	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.Prepare(`INSERT INTO shots(time_ms, url, origin, signature, field_count, data_json) VALUES(?,?,?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, shot := range shots {
		if err := d.ValidateShot(shot); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid shot: %w", err)
		}

		origin, _ := Origin(shot.URL)
		jsonData, err := snapshot.Marshal(shot.Data)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal shot data: %w", err)
		}
		if _, err := statement.Exec(shot.Time, shot.URL, origin, snapshot.Signature(shot.Data), len(shot.Data), string(jsonData)); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) InsertShot(shot models.Shot) error {
	return d.InsertShots([]models.Shot{shot})
}

func (d *Database) GetShot(timeMS int64) (models.Shot, error) {
	var (
		shot     models.Shot
		dataJSON string
	)
	err := d.db.QueryRow(`SELECT time_ms, url, data_json FROM shots WHERE time_ms = ?`, timeMS).
		Scan(&shot.Time, &shot.URL, &dataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shot{}, ErrNotFound
	}
	if err != nil {
		return models.Shot{}, fmt.Errorf("failed to query shot: %w", err)
	}
	shot.Data, err = snapshot.Unmarshal([]byte(dataJSON))
	if err != nil {
		return models.Shot{}, fmt.Errorf("stored shot %d: %w", timeMS, err)
	}
	return shot, nil
}

// ListShots returns the shots taken on pages of the same origin as pageURL,
// newest first. An empty pageURL lists every shot.
func (d *Database) ListShots(pageURL string) ([]models.ShotSummary, error) {
	query := `SELECT time_ms, url, origin, signature, field_count FROM shots`
	var args []any
	if pageURL != "" {
		origin, err := Origin(pageURL)
		if err != nil {
			return nil, err
		}
		query += ` WHERE origin = ?`
		args = append(args, origin)
	}
	query += ` ORDER BY time_ms DESC`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shots: %w", err)
	}
	defer rows.Close()

	summaries := []models.ShotSummary{}
	for rows.Next() {
		var s models.ShotSummary
		if err := rows.Scan(&s.Time, &s.URL, &s.Origin, &s.Signature, &s.FieldCount); err != nil {
			return nil, fmt.Errorf("failed to scan shot: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (d *Database) DeleteShot(timeMS int64) error {
	result, err := d.db.Exec(`DELETE FROM shots WHERE time_ms = ?`, timeMS)
	if err != nil {
		return fmt.Errorf("failed to delete shot: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete shot: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
