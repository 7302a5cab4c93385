package todo

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps todos in insertion order for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	todos map[string]Todo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{todos: map[string]Todo{}}
}

func (s *MemoryStore) Create(_ context.Context, title string, completed bool) (Todo, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Todo{}, fmt.Errorf("generating todo id: %w", err)
	}

	todo := Todo{ID: id.String(), Title: title, Completed: completed}

	s.mu.Lock()
	s.todos[todo.ID] = todo
	s.order = append(s.order, todo.ID)
	s.mu.Unlock()

	return todo, nil
}

func (s *MemoryStore) GetAll(context.Context) ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	todos := make([]Todo, 0, len(s.order))
	for _, id := range s.order {
		todos = append(todos, s.todos[id])
	}

	return todos, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	todo, ok := s.todos[id]
	if !ok {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return todo, nil
}

func (s *MemoryStore) Update(_ context.Context, id, title string, completed bool) (Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	todo, ok := s.todos[id]
	if !ok {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	todo.Title = title
	todo.Completed = completed
	s.todos[id] = todo

	return todo, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == All {
		n := int64(len(s.order))
		s.order = nil
		s.todos = map[string]Todo{}
		return n, nil
	}

	if _, ok := s.todos[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(s.todos, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return 1, nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
