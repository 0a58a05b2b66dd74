package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/geomrefine/internal/refine"
	"github.com/banshee-data/geomrefine/internal/timeutil"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is the persisted summary of one refinement.
type Run struct {
	RunID           string          `json:"run_id"`
	CreatedAt       int64           `json:"created_at"`
	ModelType       string          `json:"model_type"`
	GeomPath        string          `json:"geom_path"`
	TiePointPath    string          `json:"tiepoint_path"`
	ElevationSource string          `json:"elevation_source"`
	PointCount      int             `json:"point_count"`
	SkippedCount    int             `json:"skipped_count"`
	Iterations      int             `json:"iterations"`
	Converged       bool            `json:"converged"`
	StopReason      string          `json:"stop_reason"`
	RMSEXBefore     float64         `json:"rmse_x_before"`
	RMSEYBefore     float64         `json:"rmse_y_before"`
	RMSEBefore      float64         `json:"rmse_global_before"`
	RMSEXAfter      float64         `json:"rmse_x_after"`
	RMSEYAfter      float64         `json:"rmse_y_after"`
	RMSEAfter       float64         `json:"rmse_global_after"`
	ParamsJSON      json.RawMessage `json:"params_json,omitempty"`
}

// RunPoint is the per tie point error of a run, before and after refinement.
type RunPoint struct {
	Index        int     `json:"index"`
	Line         int     `json:"line"`
	Row          float64 `json:"row"`
	Col          float64 `json:"col"`
	RefLon       float64 `json:"ref_lon"`
	RefLat       float64 `json:"ref_lat"`
	Elevation    float64 `json:"elevation"`
	XBefore      float64 `json:"x_before"`
	YBefore      float64 `json:"y_before"`
	GlobalBefore float64 `json:"global_before"`
	XAfter       float64 `json:"x_after"`
	YAfter       float64 `json:"y_after"`
	GlobalAfter  float64 `json:"global_after"`
	Error        string  `json:"error,omitempty"`
}

type paramsRecord struct {
	Names  []string  `json:"names"`
	Before []float64 `json:"before"`
	After  []float64 `json:"after"`
}

// NewRun builds a Run from a refinement result. The run ID is assigned on Insert.
func NewRun(res *refine.Result, geomPath, tiePointPath, elevationSource string) (*Run, error) {
	params, err := json.Marshal(paramsRecord{Names: res.ParamNames, Before: res.ParamsBefore, After: res.ParamsAfter})
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return &Run{
		ModelType:       res.ModelType,
		GeomPath:        geomPath,
		TiePointPath:    tiePointPath,
		ElevationSource: elevationSource,
		PointCount:      len(res.Refined.Points),
		SkippedCount:    res.SkippedTiePoints,
		Iterations:      res.Optimizer.Iterations,
		Converged:       res.Optimizer.Converged,
		StopReason:      res.Optimizer.StopReason,
		RMSEXBefore:     res.Original.X.RMSE,
		RMSEYBefore:     res.Original.Y.RMSE,
		RMSEBefore:      res.Original.Global.RMSE,
		RMSEXAfter:      res.Refined.X.RMSE,
		RMSEYAfter:      res.Refined.Y.RMSE,
		RMSEAfter:       res.Refined.Global.RMSE,
		ParamsJSON:      params,
	}, nil
}

// RunPoints pairs the original and refined errors of res by tie point.
func RunPoints(res *refine.Result) []RunPoint {
	out := make([]RunPoint, len(res.Refined.Points))
	for i, after := range res.Refined.Points {
		p := RunPoint{
			Index:       i,
			Line:        after.Line,
			Row:         after.Row,
			Col:         after.Col,
			RefLon:      after.RefLon,
			RefLat:      after.RefLat,
			Elevation:   after.Elevation,
			XAfter:      after.X,
			YAfter:      after.Y,
			GlobalAfter: after.Global,
			Error:       after.Err,
		}
		if i < len(res.Original.Points) {
			before := res.Original.Points[i]
			p.XBefore, p.YBefore, p.GlobalBefore = before.X, before.Y, before.Global
			if p.Error == "" {
				p.Error = before.Err
			}
		}
		out[i] = p
	}
	return out
}

// RunStore persists refinement runs.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore on a migrated database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB, clock: timeutil.RealClock{}}
}

// WithClock sets the clock used to stamp new runs.
func (s *RunStore) WithClock(c timeutil.Clock) *RunStore {
	s.clock = c
	return s
}

// Insert persists run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO refine_runs (
				run_id, created_at, model_type, geom_path, tiepoint_path, elevation_source,
				point_count, skipped_count, iterations, converged, stop_reason,
				rmse_x_before, rmse_y_before, rmse_global_before,
				rmse_x_after, rmse_y_after, rmse_global_after,
				params_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt, run.ModelType, run.GeomPath, run.TiePointPath, run.ElevationSource,
			run.PointCount, run.SkippedCount, run.Iterations, run.Converged, run.StopReason,
			run.RMSEXBefore, run.RMSEYBefore, run.RMSEBefore,
			run.RMSEXAfter, run.RMSEYAfter, run.RMSEAfter,
			paramsStr,
		)
		return err
	})
}

const runColumns = `run_id, created_at, model_type, geom_path, tiepoint_path, elevation_source,
		       point_count, skipped_count, iterations, converged, stop_reason,
		       rmse_x_before, rmse_y_before, rmse_global_before,
		       rmse_x_after, rmse_y_after, rmse_global_after,
		       params_json`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var paramsStr sql.NullString
	err := row.Scan(
		&r.RunID, &r.CreatedAt, &r.ModelType, &r.GeomPath, &r.TiePointPath, &r.ElevationSource,
		&r.PointCount, &r.SkippedCount, &r.Iterations, &r.Converged, &r.StopReason,
		&r.RMSEXBefore, &r.RMSEYBefore, &r.RMSEBefore,
		&r.RMSEXAfter, &r.RMSEYAfter, &r.RMSEAfter,
		&paramsStr,
	)
	if err != nil {
		return nil, err
	}
	if paramsStr.Valid {
		r.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &r, nil
}

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM refine_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// List returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM refine_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes a run and its points.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM refine_run_points WHERE run_id = ?`, runID); err != nil {
			return err
		}
		result, err := tx.Exec(`DELETE FROM refine_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s %w", runID, ErrNotFound)
		}
		return tx.Commit()
	})
}

// InsertPoints stores the per-point errors of a run in one transaction.
func (s *RunStore) InsertPoints(runID string, points []RunPoint) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO refine_run_points (
				run_id, point_index, line, img_row, img_col, ref_lon, ref_lat, elevation,
				x_before, y_before, global_before, x_after, y_after, global_after, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.Exec(
				runID, p.Index, p.Line, p.Row, p.Col, p.RefLon, p.RefLat, p.Elevation,
				p.XBefore, p.YBefore, p.GlobalBefore, p.XAfter, p.YAfter, p.GlobalAfter, p.Error,
			); err != nil {
				return fmt.Errorf("insert point %d: %w", p.Index, err)
			}
		}
		return tx.Commit()
	})
}

// Points returns the stored points of a run ordered by index.
func (s *RunStore) Points(runID string) ([]RunPoint, error) {
	rows, err := s.db.Query(`
		SELECT point_index, line, img_row, img_col, ref_lon, ref_lat, elevation,
		       x_before, y_before, global_before, x_after, y_after, global_after, error
		FROM refine_run_points
		WHERE run_id = ?
		ORDER BY point_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var points []RunPoint
	for rows.Next() {
		var p RunPoint
		if err := rows.Scan(
			&p.Index, &p.Line, &p.Row, &p.Col, &p.RefLon, &p.RefLat, &p.Elevation,
			&p.XBefore, &p.YBefore, &p.GlobalBefore, &p.XAfter, &p.YAfter, &p.GlobalAfter, &p.Error,
		); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SaveResult inserts a run and its points built from res.
func (s *RunStore) SaveResult(res *refine.Result, geomPath, tiePointPath, elevationSource string) (*Run, error) {
	run, err := NewRun(res, geomPath, tiePointPath, elevationSource)
	if err != nil {
		return nil, err
	}
	if err := s.Insert(run); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if err := s.InsertPoints(run.RunID, RunPoints(res)); err != nil {
		return nil, fmt.Errorf("insert run points: %w", err)
	}
	return run, nil
}
