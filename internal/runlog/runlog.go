// Package runlog records training runs and their events in the
// workspace ledger. Recording is strictly best-effort: a broken ledger
// degrades to warnings and never fails a training run.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"textrain/internal/ctxlog"
	"textrain/internal/db"
	"textrain/internal/domain"
	"textrain/internal/migrate"
)

var ErrNotFound = errors.New("not found")

// Log is an open workspace ledger.
type Log struct {
	DB *sql.DB
	// Now is the clock; tests fix it.
	Now func() time.Time
}

// Open opens the workspace ledger, creating it and applying pending
// migrations as needed.
func Open(workspace string) (*Log, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Log{DB: conn}, nil
}

func (l *Log) Close() error { return l.DB.Close() }

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// RunID derives the stable name-based id of a run from its output dir
// and start time.
func RunID(outputDir string, startedAt time.Time) string {
	name := "textrain:run:" + outputDir + ":" + startedAt.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// InsertRun registers a run. Re-registering the same id resets the row,
// so restarting a run within its id resolution keeps the ledger clean.
func (l *Log) InsertRun(ctx context.Context, r domain.Run) error {
	_, err := l.DB.ExecContext(ctx, `INSERT INTO runs(id,output_dir,task,detector,connection,status,error,started_at,finished_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET task=excluded.task, detector=excluded.detector, connection=excluded.connection, status=excluded.status, error=excluded.error, started_at=excluded.started_at, finished_at=excluded.finished_at`,
		r.ID, r.OutputDir, nullable(r.Task), nullable(r.Detector), nullable(r.Connection), r.Status,
		nullable(r.Error), r.StartedAt, nullableStringPtr(r.FinishedAt))
	return err
}

// FinishRun closes a run row with its final status.
func (l *Log) FinishRun(ctx context.Context, id, status, errMsg, finishedAt string) error {
	res, err := l.DB.ExecContext(ctx, `UPDATE runs SET status=?, error=?, finished_at=? WHERE id=?`,
		status, nullable(errMsg), finishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent records one ledger event, transactionally.
func (l *Log) AppendEvent(ctx context.Context, runID, typ, phase string, payload map[string]any) error {
	data := ""
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		data = string(b)
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO run_events(run_id,ts,type,phase,payload) VALUES (?,?,?,?,?)`,
		runID, l.now().UTC().Format(time.RFC3339), typ, nullable(phase), nullable(data)); err != nil {
		return err
	}
	return tx.Commit()
}

// RunFilters narrow a ledger listing.
type RunFilters struct {
	Status string
	Task   string
	Limit  int
}

const runColumns = `id,output_dir,COALESCE(task,''),COALESCE(detector,''),COALESCE(connection,''),status,COALESCE(error,''),started_at,finished_at`

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var r domain.Run
	var finished sql.NullString
	err := scan(&r.ID, &r.OutputDir, &r.Task, &r.Detector, &r.Connection, &r.Status, &r.Error, &r.StartedAt, &finished)
	if err != nil {
		return r, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.String
	}
	return r, nil
}

// ListRuns returns runs newest first, optionally filtered.
func (l *Log) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Task != "" {
		clauses = append(clauses, "task=?")
		args = append(args, f.Task)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + runColumns + ` FROM runs ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// GetRun fetches one run by id.
func (l *Log) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := l.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

// ListEvents returns a run's events in append order.
func (l *Log) ListEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT id,run_id,ts,type,COALESCE(phase,''),COALESCE(payload,'') FROM run_events WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.TS, &e.Type, &e.Phase, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// Recorder is the pipeline's write handle on the ledger. Every method
// is safe on a disabled recorder; ledger failures warn and are dropped.
type Recorder struct {
	log   *Log
	runID string
}

// Begin opens the workspace ledger and registers a running run. On any
// failure it warns and returns a disabled recorder, so the run itself
// is never blocked by ledger state.
func Begin(ctx context.Context, workspace string, run domain.Run) *Recorder {
	logger := ctxlog.FromContext(ctx)
	l, err := Open(workspace)
	if err != nil {
		logger.Warn("run ledger unavailable", "error", err)
		return &Recorder{}
	}
	if run.StartedAt == "" {
		run.StartedAt = l.now().UTC().Format(time.RFC3339)
	}
	if run.ID == "" {
		started, err := time.Parse(time.RFC3339, run.StartedAt)
		if err != nil {
			started = l.now()
		}
		run.ID = RunID(run.OutputDir, started)
	}
	if run.Status == "" {
		run.Status = domain.RunRunning
	}
	if err := l.InsertRun(ctx, run); err != nil {
		logger.Warn("run ledger rejected run", "error", err)
		l.Close()
		return &Recorder{}
	}
	r := &Recorder{log: l, runID: run.ID}
	r.Event(ctx, domain.EventRunStarted, "", map[string]any{"output_dir": run.OutputDir})
	logger.Info("run registered", "run_id", run.ID)
	return r
}

// RunID returns the registered run id, or "" on a disabled recorder.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

// Event records one event of the run.
func (r *Recorder) Event(ctx context.Context, typ, phase string, payload map[string]any) {
	if r == nil || r.log == nil {
		return
	}
	if err := r.log.AppendEvent(ctx, r.runID, typ, phase, payload); err != nil {
		ctxlog.FromContext(ctx).Warn("run ledger write failed", "type", typ, "error", err)
	}
}

// Finish closes the run with its outcome and releases the ledger.
func (r *Recorder) Finish(ctx context.Context, runErr error) {
	if r == nil || r.log == nil {
		return
	}
	status, msg, typ := domain.RunFinished, "", domain.EventRunFinished
	var payload map[string]any
	if runErr != nil {
		status, msg, typ = domain.RunFailed, runErr.Error(), domain.EventRunFailed
		payload = map[string]any{"error": msg}
	}
	r.Event(ctx, typ, "", payload)
	if err := r.log.FinishRun(ctx, r.runID, status, msg, r.log.now().UTC().Format(time.RFC3339)); err != nil {
		ctxlog.FromContext(ctx).Warn("run ledger close failed", "error", err)
	}
	r.log.Close()
	r.log = nil
}
