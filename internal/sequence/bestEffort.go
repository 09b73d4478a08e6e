// Package sequence runs ordered multi-step writes without a transaction.
//
// Steps run in order. When a required step fails, the compensations of the steps that already
// completed run in reverse order and the run stops. Optional steps log their failure and the run
// continues. Swapping this for a real transaction only touches this package.
package sequence

import (
	"context"
	"fmt"

	"github.com/akolanti/kbchat/pkg/logger_i"
)

type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	Optional   bool
}

type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Report lists what an optional step could not do.
type Report struct {
	Warnings []*StepError
}

type BestEffort struct {
	steps  []Step
	logger *logger_i.Logger
}

func New(logger *logger_i.Logger, steps ...Step) *BestEffort {
	if logger == nil {
		logger = logger_i.NewLogger("sequence")
	}
	return &BestEffort{steps: steps, logger: logger}
}

func (b *BestEffort) Run(ctx context.Context) (Report, error) {
	var report Report
	var done []Step

	for _, step := range b.steps {
		if err := step.Do(ctx); err != nil {
			stepErr := &StepError{Step: step.Name, Err: err}
			if step.Optional {
				b.logger.Warn("optional step failed", "step", step.Name, "error", err)
				report.Warnings = append(report.Warnings, stepErr)
				continue
			}
			b.logger.Error("step failed, compensating", "step", step.Name, "error", err)
			b.compensate(done)
			return report, stepErr
		}
		done = append(done, step)
	}
	return report, nil
}

// compensations use a fresh context so a cancelled request still cleans up
func (b *BestEffort) compensate(done []Step) {
	ctx := context.Background()
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			b.logger.Error("compensation failed", "step", step.Name, "error", err)
		}
	}
}
