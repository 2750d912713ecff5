// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned by Store lookups that find no matching row.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned on a duplicate upsert violation.
var ErrConflict = errors.New("catalog: conflict")

// Store is the concrete, embedded-SQLite backing for the catalog.
// Callers only ever see the operations below; the schema is an
// implementation detail.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc sqlite: single-writer discipline

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: load migrations: %w", err)
	}
	target, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("catalog: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("catalog: new migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("catalog: apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProjectUpsertByPath inserts or returns the existing project row for an
// absolute filesystem path.
func (s *Store) ProjectUpsertByPath(name, path string) (Project, error) {
	var id, storedName string
	err := s.db.QueryRow(`SELECT id, name FROM projects WHERE path = ?`, path).Scan(&id, &storedName)
	if err == nil {
		return Project{ID: id, Name: storedName, Path: path}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("catalog: lookup project: %w", err)
	}

	id = uuid.New().String()
	_, err = s.db.Exec(`INSERT INTO projects (id, name, path) VALUES (?, ?, ?)`, id, name, path)
	if err != nil {
		return Project{}, fmt.Errorf("catalog: insert project: %w", err)
	}
	return Project{ID: id, Name: name, Path: path}, nil
}

// SessionFindByID returns the session row, or ErrNotFound.
func (s *Store) SessionFindByID(id string) (Session, error) {
	var sess Session
	var lastMsg time.Time
	err := s.db.QueryRow(`
		SELECT id, project_id, user_id, message_count, total_tokens, first_message_preview, last_message_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &sess.Metadata.MessageCount,
		&sess.Metadata.TotalTokens, &sess.Metadata.FirstMessagePreview, &lastMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("catalog: find session: %w", err)
	}
	sess.Metadata.LastMessageAt = lastMsg
	return sess, nil
}

// SessionUpsert inserts or updates a session row with derived metadata.
func (s *Store) SessionUpsert(id, projectID, userID string, meta DerivedMetadata) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_id, user_id, message_count, total_tokens, first_message_preview, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id,
			user_id=excluded.user_id,
			message_count=excluded.message_count,
			total_tokens=excluded.total_tokens,
			first_message_preview=excluded.first_message_preview,
			last_message_at=excluded.last_message_at`,
		id, projectID, userID, meta.MessageCount, meta.TotalTokens, meta.FirstMessagePreview, meta.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert session: %w", err)
	}
	return nil
}

// SessionDeleteMany removes session rows with no on-disk counterpart
// (the orphan-sweep path).
func (s *Store) SessionDeleteMany(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin delete: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`DELETE FROM sessions WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("catalog: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("catalog: delete session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SessionListByProject lists sessions for a project/user pair.
func (s *Store) SessionListByProject(projectID, userID string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, user_id, message_count, total_tokens, first_message_preview, last_message_at
		FROM sessions WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		var sess Session
		var lastMsg time.Time
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.UserID, &sess.Metadata.MessageCount,
			&sess.Metadata.TotalTokens, &sess.Metadata.FirstMessagePreview, &lastMsg); err != nil {
			return nil, fmt.Errorf("catalog: scan session: %w", err)
		}
		sess.Metadata.LastMessageAt = lastMsg
		result = append(result, sess)
	}
	return result, rows.Err()
}
