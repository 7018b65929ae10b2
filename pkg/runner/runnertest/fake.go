// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/acorn-io/subdomain-manager/pkg/runner"
)

type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// HandlerFunc answers a single command invocation.
type HandlerFunc func(name string, args []string) (runner.Result, error)

// Runner dispatches to a handler keyed by command name and records every call.
// Commands without a handler succeed with empty output.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []Call
}

func New() *Runner {
	return &Runner{handlers: map[string]HandlerFunc{}}
}

func (r *Runner) Handle(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...)})
	fn := r.handlers[name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return runner.Result{}, err
	}
	if fn == nil {
		return runner.Result{}, nil
	}
	return fn(name, args)
}

func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls for one command name.
func (r *Runner) CallsTo(name string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
