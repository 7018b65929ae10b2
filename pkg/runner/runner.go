package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a process that was started. A non-zero ExitCode is not an error on its own.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stderr when present, stdout otherwise. Used for error messages.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner runs external commands. Errors are returned only when the process could not be run to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

type execRunner struct {
	log *logrus.Entry
}

func New(log *logrus.Entry) Runner {
	return &execRunner{log: log}
}

func (e *execRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debugf("running %s %s", name, strings.Join(args, " "))
	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, err
	}

	return result, nil
}
