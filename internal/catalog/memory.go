package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencampus/examcore/internal/errs"
)

type memoryStore struct {
	mu        sync.RWMutex
	exams     map[string]Exam
	questions map[string]Question
}

func NewInMemoryStore() Store {
	return &memoryStore{
		exams:     map[string]Exam{},
		questions: map[string]Question{},
	}
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) PutQuestion(_ context.Context, q Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %q: %w", id, errs.ErrNotFound)
	}
	return e, nil
}

func (m *memoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return Question{}, fmt.Errorf("question %q: %w", id, errs.ErrNotFound)
	}
	return q, nil
}
