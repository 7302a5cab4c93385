// Package todo stores the items served by the todo API.
package todo

import (
	"context"
	"errors"
)

// All is the id that addresses every todo on Delete.
const All = "*"

var ErrNotFound = errors.New("todo not found")

type Todo struct {
	ID        string `json:"_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type Store interface {
	Create(ctx context.Context, title string, completed bool) (Todo, error)
	GetAll(ctx context.Context) ([]Todo, error)
	Get(ctx context.Context, id string) (Todo, error)
	Update(ctx context.Context, id, title string, completed bool) (Todo, error)
	// Delete removes the todo with id, or every todo when id is All, and
	// reports how many were removed.
	Delete(ctx context.Context, id string) (int64, error)
	Close(ctx context.Context) error
}
