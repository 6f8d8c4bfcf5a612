// Package runs persists completed investigations so they can be listed and
// replayed after the process restarts.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/semlin/lineaged/internal/engine"
)

var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Run is the persisted form of an engine.State.
type Run struct {
	ID          string              `json:"id"`
	Query       string              `json:"query"`
	Status      string              `json:"status"`
	Plan        string              `json:"plan,omitempty"`
	FinalAnswer string              `json:"final_answer,omitempty"`
	Confidence  float64             `json:"confidence_score"`
	StepCount   int                 `json:"step_count"`
	ToolCalls   []string            `json:"tool_calls_made"`
	ToolResults []engine.ToolResult `json:"tool_results"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

func fromState(state *engine.State) (Run, error) {
	if state == nil {
		return Run{}, fmt.Errorf("nil state")
	}
	return Run{
		ID:          state.ID,
		Query:       state.Query,
		Status:      string(state.CurrentStep),
		Plan:        state.Plan,
		FinalAnswer: state.FinalAnswer,
		Confidence:  state.Confidence,
		StepCount:   state.StepCount,
		ToolCalls:   state.ToolCalls,
		ToolResults: state.ToolResults,
		StartedAt:   state.StartedAt,
		FinishedAt:  state.FinishedAt,
	}, nil
}

// Save writes a finished run. Saving the same run id twice overwrites the
// earlier row, which only happens when a caller replays a run.
func (s *Store) Save(ctx context.Context, state *engine.State) (Run, error) {
	run, err := fromState(state)
	if err != nil {
		return Run{}, err
	}
	toolCallsJSON, err := json.Marshal(run.ToolCalls)
	if err != nil {
		return Run{}, fmt.Errorf("encode tool calls: %w", err)
	}
	toolResultsJSON, err := json.Marshal(run.ToolResults)
	if err != nil {
		return Run{}, fmt.Errorf("encode tool results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs (id, query, status, plan, final_answer, confidence, step_count, tool_calls, tool_results, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			plan = excluded.plan,
			final_answer = excluded.final_answer,
			confidence = excluded.confidence,
			step_count = excluded.step_count,
			tool_calls = excluded.tool_calls,
			tool_results = excluded.tool_results,
			finished_at = excluded.finished_at`,
		run.ID, run.Query, run.Status, run.Plan, run.FinalAnswer, run.Confidence, run.StepCount,
		string(toolCallsJSON), string(toolResultsJSON),
		run.StartedAt.Format(time.RFC3339Nano), run.FinishedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, query, status, plan, final_answer, confidence, step_count, tool_calls, tool_results, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, query, status, plan, final_answer, confidence, step_count, tool_calls, tool_results, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var plan, finalAnswer, toolCallsStr, toolResultsStr sql.NullString
	var startedAtStr, finishedAtStr string
	err := row.Scan(&run.ID, &run.Query, &run.Status, &plan, &finalAnswer, &run.Confidence, &run.StepCount,
		&toolCallsStr, &toolResultsStr, &startedAtStr, &finishedAtStr)
	if err != nil {
		return Run{}, err
	}
	run.Plan = plan.String
	run.FinalAnswer = finalAnswer.String
	if toolCallsStr.Valid && toolCallsStr.String != "" {
		if err := json.Unmarshal([]byte(toolCallsStr.String), &run.ToolCalls); err != nil {
			return Run{}, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if toolResultsStr.Valid && toolResultsStr.String != "" {
		if err := json.Unmarshal([]byte(toolResultsStr.String), &run.ToolResults); err != nil {
			return Run{}, fmt.Errorf("decode tool results: %w", err)
		}
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
	run.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAtStr)
	return run, nil
}
