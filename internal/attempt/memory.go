package attempt

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opencampus/examcore/internal/errs"
)

type answerKey struct {
	attemptID  string
	questionID string
}

// memoryStore keeps everything behind one mutex, so the uniqueness and
// CAS guarantees hold trivially. Used by tests and offline runs.
type memoryStore struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
	answers  map[answerKey]Answer
	stats    map[string]Stats
}

func NewInMemoryStore() Store {
	return &memoryStore{
		attempts: map[string]Attempt{},
		answers:  map[answerKey]Answer{},
		stats:    map[string]Stats{},
	}
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.attempts {
		if e.UserID == a.UserID && e.ExamID == a.ExamID && e.Status == StatusInProgress {
			return ErrDuplicateInProgress
		}
	}
	m.attempts[a.ID] = a
	return nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, fmt.Errorf("attempt %q: %w", id, errs.ErrNotFound)
	}
	return a, nil
}

func (m *memoryStore) FindInProgress(_ context.Context, userID, examID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.UserID == userID && a.ExamID == examID && a.Status == StatusInProgress {
			return a, nil
		}
	}
	return Attempt{}, fmt.Errorf("open attempt for user %q exam %q: %w", userID, examID, errs.ErrNotFound)
}

func (m *memoryStore) CountAttempts(_ context.Context, userID, examID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.attempts {
		if a.UserID == userID && a.ExamID == examID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts ListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.UserID != "" && a.UserID != opts.UserID {
			continue
		}
		if opts.Status != "" && string(a.Status) != opts.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memoryStore) ListFinalized(_ context.Context, examID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.ExamID == examID && (a.Status == StatusSubmitted || a.Status == StatusGraded) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) MarkSubmitted(_ context.Context, id string, submittedAt time.Time, timeSpentSeconds int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok || a.Status != StatusInProgress {
		return false, nil
	}
	a.Status = StatusSubmitted
	a.SubmittedAt = &submittedAt
	a.TimeSpentSeconds = &timeSpentSeconds
	m.attempts[id] = a
	return true, nil
}

func (m *memoryStore) SetScore(_ context.Context, id string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return fmt.Errorf("attempt %q: %w", id, errs.ErrNotFound)
	}
	a.Score = &score
	m.attempts[id] = a
	return nil
}

func (m *memoryStore) MarkGraded(_ context.Context, id string, score float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok || a.Status != StatusSubmitted {
		return false, nil
	}
	a.Status = StatusGraded
	a.Score = &score
	m.attempts[id] = a
	return true, nil
}

func (m *memoryStore) UpsertAnswer(_ context.Context, ans Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[ans.AttemptID]
	if !ok {
		return fmt.Errorf("attempt %q: %w", ans.AttemptID, errs.ErrNotFound)
	}
	if a.Status != StatusInProgress {
		return fmt.Errorf("attempt %q is %s: %w", ans.AttemptID, a.Status, errs.ErrInvalidState)
	}
	m.answers[answerKey{ans.AttemptID, ans.QuestionID}] = ans
	return nil
}

func (m *memoryStore) GetAnswers(_ context.Context, attemptID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Answer
	for k, a := range m.answers {
		if k.attemptID == attemptID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) UpsertStats(_ context.Context, s Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[s.ExamID] = s
	return nil
}

func (m *memoryStore) GetStats(_ context.Context, examID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[examID]
	if !ok {
		return Stats{}, fmt.Errorf("stats for exam %q: %w", examID, errs.ErrNotFound)
	}
	return s, nil
}
