package requests

import (
	"github.com/pako-23/todo-harness/internal/todo"
)

func init() {
	Register("todo-api", func(deps Deps) (Request, error) {
		if deps.Store == nil {
			return nil, errMissing("store")
		}
		return &TodoAPI{Store: deps.Store}, nil
	})
}

type TodoAPI struct {
	todo.Store
}

func (*TodoAPI) Describe() string {
	return "implement the todo API"
}
