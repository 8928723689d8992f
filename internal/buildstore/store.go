package buildstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBuildNotFound is returned when a build id has no row.
var ErrBuildNotFound = errors.New("build not found")

const buildColumns = `id, uuid, builder, buildroot, boards, status, summary, started_at, finished_at`

// StartBuild records a new running build and returns it with its assigned id.
func (s *Store) StartBuild(ctx context.Context, uuid, builder, buildroot string, boards []string) (*Build, error) {
	if strings.TrimSpace(uuid) == "" {
		return nil, errors.New("start build: uuid is required")
	}
	if strings.TrimSpace(builder) == "" {
		return nil, errors.New("start build: builder is required")
	}
	started := time.Now().UTC()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO builds (uuid, builder, buildroot, boards, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid, builder, buildroot, joinBoards(boards), StatusRunning, started.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert build: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBuild(ctx, id)
}

// FinishBuild stamps the final status and summary of a build.
func (s *Store) FinishBuild(ctx context.Context, id int64, status Status, summary string) error {
	if status == StatusRunning {
		return fmt.Errorf("finish build %d: status %q is not terminal", id, status)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE builds SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		status, nullableString(summary), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("finish build %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish build %d: %w", id, ErrBuildNotFound)
	}
	return nil
}

// RecordStage appends a stage result to a build.
func (s *Store) RecordStage(ctx context.Context, stage Stage) (int64, error) {
	if stage.BuildID == 0 {
		return 0, errors.New("record stage: build id is required")
	}
	started := stage.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO stages (build_id, name, board, status, description, started_at, duration_ms)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stage.BuildID, stage.Name, stage.Board, stage.Status, nullableString(stage.Description),
		started.UTC().Format(time.RFC3339Nano), stage.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert stage %s: %w", stage.Name, err)
	}
	return res.LastInsertId()
}

// GetBuild fetches a build by id.
func (s *Store) GetBuild(ctx context.Context, id int64) (*Build, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	build, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get build %d: %w", id, ErrBuildNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get build %d: %w", id, err)
	}
	return build, nil
}

// ListBuilds returns the most recent builds first. A non-positive limit
// returns every build.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]*Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []*Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, build)
	}
	return builds, rows.Err()
}

// Stages returns the recorded stages of a build in the order they finished.
func (s *Store) Stages(ctx context.Context, buildID int64) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, build_id, name, board, status, description, started_at, duration_ms
         FROM stages WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var (
			stage       Stage
			description sql.NullString
			started     string
			durationMS  int64
		)
		if err := rows.Scan(&stage.ID, &stage.BuildID, &stage.Name, &stage.Board, &stage.Status,
			&description, &started, &durationMS); err != nil {
			return nil, err
		}
		stage.Description = description.String
		stage.StartedAt = parseTime(started)
		stage.Duration = time.Duration(durationMS) * time.Millisecond
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// ResetInflight marks builds left running by a dead process as aborted and
// returns how many rows changed. A non-empty buildroot limits the sweep to
// builds that ran there.
func (s *Store) ResetInflight(ctx context.Context, buildroot string) (int64, error) {
	query := `UPDATE builds SET status = ?, summary = COALESCE(summary, ?), finished_at = ? WHERE status = ?`
	args := []any{
		StatusAborted, "process exited before the build finished",
		time.Now().UTC().Format(time.RFC3339Nano), StatusRunning,
	}
	if buildroot != "" {
		query += ` AND buildroot = ?`
		args = append(args, buildroot)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset inflight builds: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*Build, error) {
	var (
		build    Build
		boards   string
		status   string
		summary  sql.NullString
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&build.ID, &build.UUID, &build.Builder, &build.Buildroot, &boards,
		&status, &summary, &started, &finished); err != nil {
		return nil, err
	}
	build.Boards = splitBoards(boards)
	build.Status = Status(status)
	build.Summary = summary.String
	build.StartedAt = parseTime(started)
	if finished.Valid {
		build.FinishedAt = parseTime(finished.String)
	}
	return &build, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
