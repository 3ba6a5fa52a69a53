package db

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/velocap/internal/lidar"
	"github.com/banshee-data/velocap/internal/lidar/l2frames"
)

// Session is one row of capture_sessions.
type Session struct {
	SessionID   string
	SensorModel string
	Source      string
	Ended       bool
	Packets     int64
	Bytes       int64
	Dropped     int64
	Rejected    int64
	Frames      int64
	Points      int64
}

// FrameRecord is the logged summary of one rotation frame. Bounds are nil
// for an empty frame.
type FrameRecord struct {
	FrameID     string
	SessionID   string
	SensorModel string
	TimestampUs int64
	PointCount  int
	Min, Max    *[3]float64
}

// StartSession inserts a session row. Starting an existing session again
// is an error.
func (db *DB) StartSession(sessionID, sensorModel, source string) error {
	_, err := db.Exec(
		`INSERT INTO capture_sessions (session_id, sensor_model, source) VALUES (?, ?, ?)`,
		sessionID, sensorModel, source,
	)
	if err != nil {
		return fmt.Errorf("failed to start session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession stamps ended_at and stores the final packet counters.
func (db *DB) EndSession(sessionID string, stats lidar.StatsSnapshot) error {
	res, err := db.Exec(`
		UPDATE capture_sessions
		SET ended_at = CURRENT_TIMESTAMP,
			packets = ?, bytes = ?, dropped = ?, rejected = ?, frames = ?, points = ?
		WHERE session_id = ?`,
		stats.Packets, stats.Bytes, stats.Dropped, stats.Rejected, stats.Frames, stats.Points,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// GetSession returns one session by id.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	var s Session
	var endedAt sql.NullString
	err := db.QueryRow(`
		SELECT session_id, sensor_model, source, ended_at,
			packets, bytes, dropped, rejected, frames, points
		FROM capture_sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.SessionID, &s.SensorModel, &s.Source, &endedAt,
		&s.Packets, &s.Bytes, &s.Dropped, &s.Rejected, &s.Frames, &s.Points)
	if err != nil {
		return nil, err
	}
	s.Ended = endedAt.Valid
	return &s, nil
}

// RecordFrame logs one completed frame against sessionID.
func (db *DB) RecordFrame(sessionID string, f *l2frames.Frame) error {
	var lo, hi [3]sql.NullFloat64
	if fmin, fmax, ok := f.Bounds(); ok {
		for i := range lo {
			lo[i] = sql.NullFloat64{Float64: fmin[i], Valid: true}
			hi[i] = sql.NullFloat64{Float64: fmax[i], Valid: true}
		}
	}
	_, err := db.Exec(`
		INSERT INTO frames (
			frame_id, session_id, sensor_model, timestamp_us, point_count,
			min_x, min_y, min_z, max_x, max_y, max_z
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, sessionID, f.Model.String(), f.Timestamp, f.Len(),
		lo[0], lo[1], lo[2], hi[0], hi[1], hi[2],
	)
	if err != nil {
		return fmt.Errorf("failed to record frame %s: %w", f.ID, err)
	}
	return nil
}

// RecentFrames returns up to limit frames, newest first.
func (db *DB) RecentFrames(limit int) ([]FrameRecord, error) {
	rows, err := db.Query(`
		SELECT frame_id, session_id, sensor_model, timestamp_us, point_count,
			min_x, min_y, min_z, max_x, max_y, max_z
		FROM frames
		ORDER BY rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []FrameRecord
	for rows.Next() {
		var r FrameRecord
		var b [6]sql.NullFloat64
		if err := rows.Scan(&r.FrameID, &r.SessionID, &r.SensorModel, &r.TimestampUs, &r.PointCount,
			&b[0], &b[1], &b[2], &b[3], &b[4], &b[5]); err != nil {
			return nil, err
		}
		if b[0].Valid {
			r.Min = &[3]float64{b[0].Float64, b[1].Float64, b[2].Float64}
			r.Max = &[3]float64{b[3].Float64, b[4].Float64, b[5].Float64}
		}
		frames = append(frames, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// FrameCount returns the number of frames logged for sessionID.
func (db *DB) FrameCount(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
