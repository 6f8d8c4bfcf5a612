package eventbus

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type Bus struct {
	db *sql.DB

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	streams map[string]struct{}
	ch      chan Event
}

func NewBus(db *sql.DB) *Bus {
	return &Bus{db: db, subs: map[string]*subscriber{}}
}

func (b *Bus) Push(ctx context.Context, input EventInput) (Event, error) {
	if strings.TrimSpace(input.Stream) == "" {
		return Event{}, fmt.Errorf("stream is required")
	}
	if strings.TrimSpace(input.RunID) == "" {
		return Event{}, fmt.Errorf("run_id is required")
	}

	id := ulid.Make().String()
	createdAt := time.Now().UTC()

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO events (id, stream, run_id, step, state, tool, latency_ms, success, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, input.Stream, input.RunID, input.Step, input.State, nullString(input.Tool), input.LatencyMS, boolInt(input.Success), nullString(input.Body), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	event := Event{
		ID:        id,
		Stream:    input.Stream,
		RunID:     input.RunID,
		Step:      input.Step,
		State:     input.State,
		Tool:      input.Tool,
		LatencyMS: input.LatencyMS,
		Success:   input.Success,
		Body:      input.Body,
		CreatedAt: createdAt,
	}

	b.broadcast(event)
	return event, nil
}

func (b *Bus) List(ctx context.Context, stream string, opts ListOptions) ([]Event, error) {
	if strings.TrimSpace(stream) == "" {
		return nil, fmt.Errorf("stream is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	order := strings.ToLower(opts.Order)
	if order != "fifo" && order != "lifo" {
		order = "lifo"
	}
	orderBy := "created_at DESC, id DESC"
	if order == "fifo" {
		orderBy = "created_at ASC, id ASC"
	}

	where := "WHERE stream = ?"
	args := []any{stream}
	if opts.RunID != "" {
		where += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	query := fmt.Sprintf(`SELECT id, stream, run_id, step, state, tool, latency_ms, success, body, created_at FROM events %s ORDER BY %s LIMIT ?`, where, orderBy)
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var tool, body sql.NullString
		var success int
		var createdAtStr string
		if err := rows.Scan(&e.ID, &e.Stream, &e.RunID, &e.Step, &e.State, &tool, &e.LatencyMS, &success, &body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Tool = tool.String
		e.Body = body.String
		e.Success = success != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Subscribe delivers live events for the given streams until ctx is done.
// An empty streams list matches everything.
func (b *Bus) Subscribe(ctx context.Context, streams []string) <-chan Event {
	ch := make(chan Event, 64)
	streamSet := map[string]struct{}{}
	for _, s := range streams {
		if s == "" {
			continue
		}
		streamSet[s] = struct{}{}
	}
	id := ulid.Make().String()

	sub := &subscriber{streams: streamSet, ch: ch}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.streams) > 0 {
			if _, ok := sub.streams[event.Stream]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
