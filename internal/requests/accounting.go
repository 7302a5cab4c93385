package requests

import (
	"github.com/pako-23/todo-harness/internal/accounting"
)

func init() {
	Register("accounting", func(deps Deps) (Request, error) {
		if deps.Accounting == nil {
			return nil, errMissing("accounting")
		}
		return &Accounting{Accounting: deps.Accounting}, nil
	})
}

type Accounting struct {
	*accounting.Accounting
}

func (*Accounting) Describe() string {
	return "get request accounting data"
}
