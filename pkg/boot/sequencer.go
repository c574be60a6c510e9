// Package boot prepares an application container and hands the process over
// to its supervisor.
package boot

import (
	"context"
	stderrors "errors"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Step interface {
	Name() string
	Run(ctx context.Context) error
}

// Sequencer runs steps strictly in order and stops at the first failure.
// There is no rollback; the container runtime's restart policy is the only
// retry mechanism.
type Sequencer struct {
	Steps []Step
}

func (s *Sequencer) Run(ctx context.Context) error {
	for _, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		log.Info().Str("step", step.Name()).Msg("boot step")
		if err := step.Run(ctx); err != nil {
			log.Error().Err(err).Str("step", step.Name()).Msg("boot step failed")
			return errors.Wrapf(err, "boot step %s", step.Name())
		}
		log.Debug().Str("step", step.Name()).Dur("took", time.Since(started)).Msg("boot step done")
	}
	return nil
}

// ExitCode maps a sequencer error to a process exit status: the status of a
// failed child process when there is one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
