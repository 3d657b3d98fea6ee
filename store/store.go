// Package store persists tracking runs and per-frame track snapshots in a
// sqlite database.
package store

import (
	"database/sql"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/ugparu/GoDeepTrack/deeptrack"
	"github.com/ugparu/GoDeepTrack/eval"
	"github.com/ugparu/GoDeepTrack/utils"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

var ErrUnknownRun = errors.New("store: unknown run")

type Store struct {
	*sql.DB
}

// Run describes one tracking run over a sequence.
type Run struct {
	ID        uuid.UUID
	Sequence  string
	Config    string
	Started   time.Time
	Finished  time.Time
	Scores    eval.Scores
	HasScores bool
}

// Observation is a stored track snapshot.
type Observation struct {
	Frame int
	deeptrack.Track
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "store: %s", pragma)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create schema")
	}

	return &Store{db}, nil
}

// BeginRun records a new run and returns its id.
func (s *Store) BeginRun(sequence, configJSON string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.Exec(
		`INSERT INTO runs (run_id, sequence, config_json, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		id.String(), sequence, configJSON, time.Now().UnixNano(),
	)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "store: begin run")
	}
	return id, nil
}

// InsertFrame stores the tracks of one frame in a single transaction.
func (s *Store) InsertFrame(runID uuid.UUID, frame int, tracks []deeptrack.Track) error {
	tx, err := s.Begin()
	if err != nil {
		return errors.Wrap(err, "store: begin frame")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO track_obs
		(run_id, frame, track_id, state, box_left, box_top, box_width, box_height, hits, age, time_since_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare frame insert")
	}
	defer stmt.Close()

	for _, tr := range tracks {
		_, err := stmt.Exec(runID.String(), frame, int64(tr.ID), tr.State.String(),
			tr.Box.Left, tr.Box.Top, tr.Box.Width, tr.Box.Height,
			tr.Hits, tr.Age, tr.TimeSinceUpdate)
		if err != nil {
			return errors.Wrapf(err, "store: insert track %d of frame %d", tr.ID, frame)
		}
	}

	return errors.Wrap(tx.Commit(), "store: commit frame")
}

// FinishRun stores the scores of a run.
func (s *Store) FinishRun(runID uuid.UUID, scores eval.Scores) error {
	res, err := s.Exec(
		`UPDATE runs SET finished_unix_nanos = ?, precision = ?, recall = ?, f1 = ? WHERE run_id = ?`,
		time.Now().UnixNano(), scores.Precision, scores.Recall, scores.F1, runID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "store: finish run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrUnknownRun, "%s", runID)
	}
	return nil
}

func (s *Store) Run(runID uuid.UUID) (Run, error) {
	var (
		run              Run
		id               string
		started          int64
		finished         sql.NullInt64
		precision        sql.NullFloat64
		recall, f1Scores sql.NullFloat64
	)
	err := s.QueryRow(
		`SELECT run_id, sequence, config_json, started_unix_nanos, finished_unix_nanos, precision, recall, f1
		FROM runs WHERE run_id = ?`, runID.String(),
	).Scan(&id, &run.Sequence, &run.Config, &started, &finished, &precision, &recall, &f1Scores)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrapf(ErrUnknownRun, "%s", runID)
	}
	if err != nil {
		return Run{}, errors.Wrap(err, "store: read run")
	}

	run.ID, err = uuid.Parse(id)
	if err != nil {
		return Run{}, errors.Wrap(err, "store: parse run id")
	}
	run.Started = time.Unix(0, started)
	if finished.Valid {
		run.Finished = time.Unix(0, finished.Int64)
	}
	if precision.Valid {
		run.HasScores = true
		run.Scores.Precision = precision.Float64
		run.Scores.Recall = recall.Float64
		run.Scores.F1 = f1Scores.Float64
	}
	return run, nil
}

// TrackIDs lists the ids of every track observed in a run.
func (s *Store) TrackIDs(runID uuid.UUID) ([]uint64, error) {
	rows, err := s.Query(`SELECT DISTINCT track_id FROM track_obs WHERE run_id = ? ORDER BY track_id`, runID.String())
	if err != nil {
		return nil, errors.Wrap(err, "store: query track ids")
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "store: scan track id")
		}
		ids = append(ids, uint64(id))
	}
	return ids, errors.Wrap(rows.Err(), "store: iterate track ids")
}

// TrackObservations returns the stored snapshots of one track in frame order.
func (s *Store) TrackObservations(runID uuid.UUID, trackID uint64) ([]Observation, error) {
	rows, err := s.Query(`SELECT frame, state, box_left, box_top, box_width, box_height, hits, age, time_since_update
		FROM track_obs WHERE run_id = ? AND track_id = ? ORDER BY frame`, runID.String(), int64(trackID))
	if err != nil {
		return nil, errors.Wrap(err, "store: query observations")
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			obs   Observation
			state string
			box   utils.Rect
		)
		if err := rows.Scan(&obs.Frame, &state, &box.Left, &box.Top, &box.Width, &box.Height,
			&obs.Hits, &obs.Age, &obs.TimeSinceUpdate); err != nil {
			return nil, errors.Wrap(err, "store: scan observation")
		}
		obs.ID = trackID
		obs.Box = box
		obs.State = parseState(state)
		out = append(out, obs)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate observations")
}

func parseState(s string) deeptrack.TrackState {
	switch s {
	case deeptrack.Confirmed.String():
		return deeptrack.Confirmed
	case deeptrack.Deleted.String():
		return deeptrack.Deleted
	default:
		return deeptrack.Tentative
	}
}
