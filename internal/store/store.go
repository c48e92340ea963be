// Package store is the persistent program schedule: a SQLite table of
// channels and one of programs, written only by the ingest pipeline and
// read by the guide projection engine. Timestamps are millisecond epoch.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Channel is a guide channel as delivered by the EPG feed. ID is the
// feed-assigned channel id and is stable across syncs.
type Channel struct {
	ID          string
	DisplayName string
	IconURL     string
}

// Program is one schedule entry. ID is assigned by the store; the natural
// dedup key is (ChannelID, StartMS), so re-ingesting the same feed replaces
// rather than duplicates.
type Program struct {
	ID          int64
	ChannelID   string
	Title       string
	Description string
	StartMS     int64
	EndMS       int64
	Category    string
}

// ChannelStat summarizes stored coverage for one channel.
type ChannelStat struct {
	ChannelID   string
	DisplayName string
	Programs    int
	EarliestMS  int64
	LatestMS    int64
}

// Store wraps the SQLite schedule database.
type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		icon_url TEXT
	);
	-- channel_id is deliberately not a foreign key: channels and programs
	-- arrive in independent batches, so a program may briefly reference a
	-- channel that has not been written yet.
	CREATE TABLE IF NOT EXISTS programs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		category TEXT,
		UNIQUE(channel_id, start_ms)
	);
	CREATE INDEX IF NOT EXISTS idx_programs_channel_end ON programs(channel_id, end_ms);
`

// Open opens (creating if needed) the schedule database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer (the sync run) + concurrent readers (guide queries).
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertChannels inserts or wholesale-replaces channels by id.
// Each call is one transaction: a batch lands fully or not at all.
func (s *Store) UpsertChannels(ctx context.Context, channels []Channel) error {
	if len(channels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin channels tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channels (id, display_name, icon_url) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			icon_url     = excluded.icon_url`)
	if err != nil {
		return fmt.Errorf("store: prepare channel upsert: %w", err)
	}
	defer stmt.Close()
	for _, c := range channels {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DisplayName, c.IconURL); err != nil {
			return fmt.Errorf("store: upsert channel %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertPrograms inserts or replaces programs keyed by (channel_id, start_ms).
// Each call is one transaction: a batch lands fully or not at all. The
// channel referenced by a program need not exist yet; channels and
// programs arrive in independent batches.
func (s *Store) UpsertPrograms(ctx context.Context, programs []Program) error {
	if len(programs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin programs tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO programs (channel_id, title, description, start_ms, end_ms, category)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, start_ms) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			end_ms      = excluded.end_ms,
			category    = excluded.category`)
	if err != nil {
		return fmt.Errorf("store: prepare program upsert: %w", err)
	}
	defer stmt.Close()
	for _, p := range programs {
		if _, err := stmt.ExecContext(ctx, p.ChannelID, p.Title, p.Description, p.StartMS, p.EndMS, p.Category); err != nil {
			return fmt.Errorf("store: upsert program %q @%d: %w", p.Title, p.StartMS, err)
		}
	}
	return tx.Commit()
}

// ProgramsInWindow returns programs on the given channels overlapping
// [startMS, endMS), ordered by channel then start time. A program overlaps
// when end_ms > startMS AND start_ms < endMS. Empty channelIDs returns nil
// without touching the database.
func (s *Store) ProgramsInWindow(ctx context.Context, channelIDs []string, startMS, endMS int64) ([]Program, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(channelIDs)), ",")
	args := make([]any, 0, len(channelIDs)+2)
	for _, id := range channelIDs {
		args = append(args, id)
	}
	args = append(args, startMS, endMS)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, channel_id, title, COALESCE(description, ''), start_ms, end_ms, COALESCE(category, '')
		FROM programs
		WHERE channel_id IN (%s) AND end_ms > ? AND start_ms < ?
		ORDER BY channel_id, start_ms`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query window: %w", err)
	}
	defer rows.Close()

	var out []Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.ChannelID, &p.Title, &p.Description, &p.StartMS, &p.EndMS, &p.Category); err != nil {
			return nil, fmt.Errorf("store: scan program: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProgramsOlderThan removes programs whose end_ms is before cutoffMS.
// Run after each successful sync to bound storage growth. Returns rows removed.
func (s *Store) DeleteProgramsOlderThan(ctx context.Context, cutoffMS int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE end_ms < ?`, cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("store: prune programs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAllChannels clears the channel table and cascades to the programs
// of every deleted channel. Done in one transaction so readers never see
// channels gone but their programs still present.
func (s *Store) DeleteAllChannels(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin delete channels tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM programs WHERE channel_id IN (SELECT id FROM channels)`); err != nil {
		return fmt.Errorf("store: cascade programs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels`); err != nil {
		return fmt.Errorf("store: delete channels: %w", err)
	}
	return tx.Commit()
}

// DeleteAllPrograms clears the program table.
func (s *Store) DeleteAllPrograms(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM programs`); err != nil {
		return fmt.Errorf("store: delete programs: %w", err)
	}
	return nil
}

// ChannelStats reports per-channel program counts and coverage bounds,
// ordered by display name. Channels with no programs report zero counts.
func (s *Store) ChannelStats(ctx context.Context) ([]ChannelStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, COALESCE(c.display_name, ''), COUNT(p.id),
		       COALESCE(MIN(p.start_ms), 0), COALESCE(MAX(p.end_ms), 0)
		FROM channels c
		LEFT JOIN programs p ON p.channel_id = c.id
		GROUP BY c.id, c.display_name
		ORDER BY c.display_name, c.id`)
	if err != nil {
		return nil, fmt.Errorf("store: channel stats: %w", err)
	}
	defer rows.Close()

	var out []ChannelStat
	for rows.Next() {
		var st ChannelStat
		if err := rows.Scan(&st.ChannelID, &st.DisplayName, &st.Programs, &st.EarliestMS, &st.LatestMS); err != nil {
			return nil, fmt.Errorf("store: scan stat: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
