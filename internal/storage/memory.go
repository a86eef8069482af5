package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"sendbot/internal/message"
)

// Memory is a map-backed Store. It honors the same per-record semantics as
// the sqlite backend but holds nothing across restarts; it exists for tests
// and for explicitly ephemeral deployments.
type Memory struct {
	mu   sync.RWMutex
	msgs map[string]message.ScheduledMessage
}

func NewMemory() *Memory {
	return &Memory{msgs: map[string]message.ScheduledMessage{}}
}

func (s *Memory) Insert(ctx context.Context, m message.ScheduledMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.msgs[m.ID] = m
	s.mu.Unlock()
	return nil
}

func (s *Memory) Update(ctx context.Context, m message.ScheduledMessage) (message.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return message.ScheduledMessage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.msgs[m.ID]
	if !ok {
		return message.ScheduledMessage{}, ErrNotFound
	}
	m.CreatedAt = prev.CreatedAt
	s.msgs[m.ID] = m
	return m, nil
}

func (s *Memory) UpdateStatus(ctx context.Context, id string, st message.Status) (message.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return message.ScheduledMessage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return message.ScheduledMessage{}, ErrNotFound
	}
	m.Status = st
	s.msgs[id] = m
	return m, nil
}

func (s *Memory) Get(ctx context.Context, id string) (message.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return message.ScheduledMessage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.msgs[id]
	if !ok {
		return message.ScheduledMessage{}, ErrNotFound
	}
	return m, nil
}

func (s *Memory) ListAll(ctx context.Context) ([]message.ScheduledMessage, error) {
	return s.listWhere(ctx, func(message.ScheduledMessage) bool { return true })
}

func (s *Memory) ListByStatus(ctx context.Context, st message.Status) ([]message.ScheduledMessage, error) {
	return s.listWhere(ctx, func(m message.ScheduledMessage) bool { return m.Status == st })
}

func (s *Memory) PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.msgs {
		if m.Status.Terminal() && m.CreatedAt.Before(cutoff) {
			delete(s.msgs, id)
			n++
		}
	}
	return n, nil
}

func (s *Memory) Close() error { return nil }

func (s *Memory) listWhere(ctx context.Context, keep func(message.ScheduledMessage) bool) ([]message.ScheduledMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []message.ScheduledMessage
	for _, m := range s.msgs {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}
