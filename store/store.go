// Package store persists zones, alerts, clip requests and clip artifact
// records in SQLite. It is the default implementation of the engine's
// persistence sinks.
package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/vigil-cv/vigil/clip"
	"github.com/vigil-cv/vigil/risk"
	"github.com/vigil-cv/vigil/zone"
)

type Store struct {
	*sql.DB
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS zones (
			zone_id           TEXT PRIMARY KEY,
			name              TEXT,
			x                 DOUBLE,
			y                 DOUBLE,
			width             DOUBLE,
			height            DOUBLE,
			enabled           BOOLEAN,
			updated_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS alerts (
			correlation_id    TEXT PRIMARY KEY,
			event_id          TEXT,
			actor_id          TEXT,
			event_kind        TEXT,
			risk_score        DOUBLE,
			level             TEXT,
			event_time        TIMESTAMP,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS clip_requests (
			request_id        TEXT PRIMARY KEY,
			source_id         TEXT,
			center_time       TIMESTAMP,
			window_before_ms  BIGINT,
			window_after_ms   BIGINT,
			correlation_id    TEXT,
			priority          TEXT,
			status            TEXT
		);
		CREATE TABLE IF NOT EXISTS video_clips (
			correlation_id    TEXT,
			source_id         TEXT,
			start_time        TIMESTAMP,
			end_time          TIMESTAMP,
			artifact_path     TEXT,
			thumbnail_path    TEXT,
			size_bytes        BIGINT,
			partial           BOOLEAN,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, errors.Wrap(err, "can't ensure schema")
	}

	return &Store{db}, nil
}

// SaveZone upserts one zone definition keyed by zone_id.
func (s *Store) SaveZone(z zone.Zone) error {
	_, err := s.Exec(`
		INSERT INTO zones (zone_id, name, x, y, width, height, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(zone_id) DO UPDATE SET
			name = excluded.name,
			x = excluded.x, y = excluded.y,
			width = excluded.width, height = excluded.height,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`,
		z.ID, z.Name, z.BBox.X, z.BBox.Y, z.BBox.Width, z.BBox.Height, z.Enabled)
	return errors.Wrapf(err, "can't save zone %s", z.ID)
}

// Zones loads every stored zone definition.
func (s *Store) Zones() ([]zone.Zone, error) {
	rows, err := s.Query(`
		SELECT zone_id, name, x, y, width, height, enabled
		FROM zones ORDER BY zone_id`)
	if err != nil {
		return nil, errors.Wrap(err, "can't load zones")
	}
	defer rows.Close()

	var zones []zone.Zone
	for rows.Next() {
		var z zone.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.BBox.X, &z.BBox.Y, &z.BBox.Width, &z.BBox.Height, &z.Enabled); err != nil {
			return nil, errors.Wrap(err, "can't scan zone")
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// SaveAlert records one alert keyed by correlation id.
func (s *Store) SaveAlert(a risk.Alert) error {
	_, err := s.Exec(`
		INSERT INTO alerts (correlation_id, event_id, actor_id, event_kind, risk_score, level, event_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.CorrelationID, a.Event.ID, a.Event.ActorID, string(a.Event.Kind),
		a.Score, a.Level.String(), a.Event.Timestamp)
	return errors.Wrapf(err, "can't save alert %s", a.CorrelationID)
}

// ActorAlertCount returns how many alerts the actor accumulated since the
// cutoff.
func (s *Store) ActorAlertCount(actorID string, since time.Time) (int, error) {
	var count int
	err := s.QueryRow(`
		SELECT COUNT(*) FROM alerts WHERE actor_id = ? AND event_time >= ?`,
		actorID, since).Scan(&count)
	return count, errors.Wrapf(err, "can't count alerts for actor %s", actorID)
}

// SaveClipRequest upserts a clip request row, keeping its latest status.
func (s *Store) SaveClipRequest(r *clip.Request) error {
	_, err := s.Exec(`
		INSERT INTO clip_requests (request_id, source_id, center_time, window_before_ms, window_after_ms, correlation_id, priority, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET status = excluded.status`,
		r.ID, r.SourceID, r.Center,
		r.Before.Milliseconds(), r.After.Milliseconds(),
		r.CorrelationID, r.Priority.String(), r.Status.String())
	return errors.Wrapf(err, "can't save clip request %s", r.ID)
}

// ClipRequestStatus returns the stored status of a request.
func (s *Store) ClipRequestStatus(requestID string) (string, error) {
	var status string
	err := s.QueryRow(`SELECT status FROM clip_requests WHERE request_id = ?`, requestID).Scan(&status)
	return status, errors.Wrapf(err, "can't load clip request %s", requestID)
}

// SaveClip records one emitted clip artifact.
func (s *Store) SaveClip(c *clip.Clip) error {
	_, err := s.Exec(`
		INSERT INTO video_clips (correlation_id, source_id, start_time, end_time, artifact_path, thumbnail_path, size_bytes, partial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CorrelationID, c.SourceID, c.StartTime, c.EndTime,
		c.ArtifactPath, c.ThumbnailPath, c.SizeBytes, c.Partial)
	return errors.Wrapf(err, "can't save clip %s", c.CorrelationID)
}

// Clips loads the clip records of one source, newest first.
func (s *Store) Clips(sourceID string) ([]clip.Clip, error) {
	rows, err := s.Query(`
		SELECT correlation_id, source_id, start_time, end_time, artifact_path, thumbnail_path, size_bytes, partial
		FROM video_clips WHERE source_id = ? ORDER BY start_time DESC`, sourceID)
	if err != nil {
		return nil, errors.Wrap(err, "can't load clips")
	}
	defer rows.Close()

	var clips []clip.Clip
	for rows.Next() {
		var c clip.Clip
		if err := rows.Scan(&c.CorrelationID, &c.SourceID, &c.StartTime, &c.EndTime,
			&c.ArtifactPath, &c.ThumbnailPath, &c.SizeBytes, &c.Partial); err != nil {
			return nil, errors.Wrap(err, "can't scan clip")
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}
