package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/rampburst/burst"
	"github.com/timzifer/rampburst/config"
)

var (
	// ErrBusy reports a manual submission while a burst is in flight and
	// queueing is disabled.
	ErrBusy = errors.New("controller busy")
	// ErrQueueFull reports a manual submission beyond the queue limit.
	ErrQueueFull = errors.New("command queue full")
	// ErrDraining reports a manual submission while the service is draining
	// ahead of a reconfiguration.
	ErrDraining = errors.New("sequencer draining")
)

// GuardEnv is the environment job guards are evaluated against.
type GuardEnv struct {
	Tick      int    `expr:"tick"`
	RawTick   int    `expr:"raw_tick"`
	Completed int    `expr:"completed"`
	Ready     bool   `expr:"ready"`
	State     string `expr:"state"`
	Job       string `expr:"job"`
	Runs      int    `expr:"runs"`
}

type job struct {
	id      string
	program burst.Program
	guard   *vm.Program
	repeat  bool
	runs    int
}

// scheduler is the upstream command source. It offers the head of its queue
// to the controller; manual submissions go before configured jobs.
type scheduler struct {
	jobs   []*job
	manual []*job
	failed []string
	limit  int
}

func compileGuard(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	return expr.Compile(src, expr.Env(GuardEnv{}), expr.AsBool())
}

func newScheduler(cfg *config.Config) (*scheduler, error) {
	s := &scheduler{limit: cfg.Controller.QueueLimit}
	for _, jc := range cfg.Jobs {
		prog, err := cfg.Program(jc)
		if err != nil {
			return nil, err
		}
		guard, err := compileGuard(jc.When)
		if err != nil {
			return nil, fmt.Errorf("job %s: compile guard: %w", jc.ID, err)
		}
		s.jobs = append(s.jobs, &job{id: jc.ID, program: prog, guard: guard, repeat: jc.Repeat})
	}
	return s, nil
}

// head returns the job to offer on this tick, if any. A job whose guard
// fails to evaluate is dropped from the queue and reported once.
func (s *scheduler) head(env GuardEnv) (*job, error) {
	if len(s.manual) > 0 {
		return s.manual[0], nil
	}
	if len(s.jobs) == 0 {
		return nil, nil
	}
	next := s.jobs[0]
	if next.guard == nil {
		return next, nil
	}
	env.Job = next.id
	env.Runs = next.runs
	result, err := expr.Run(next.guard, env)
	if err != nil {
		s.jobs = s.jobs[1:]
		s.failed = append(s.failed, next.id)
		return nil, fmt.Errorf("job %s dropped: evaluate guard: %w", next.id, err)
	}
	if ok, _ := result.(bool); ok {
		return next, nil
	}
	return nil, nil
}

// accepted removes j from its queue, re-queueing repeating jobs at the tail.
func (s *scheduler) accepted(j *job) {
	j.runs++
	if len(s.manual) > 0 && s.manual[0] == j {
		s.manual = s.manual[1:]
		return
	}
	if len(s.jobs) == 0 || s.jobs[0] != j {
		return
	}
	s.jobs = s.jobs[1:]
	if j.repeat {
		s.jobs = append(s.jobs, j)
	}
}

// submit queues a manual program. idle reports whether the controller can
// take a command right now.
func (s *scheduler) submit(id string, prog burst.Program, idle bool) error {
	if s.limit == 0 {
		if !idle || len(s.manual) > 0 {
			return ErrBusy
		}
	} else if len(s.manual) >= s.limit {
		return ErrQueueFull
	}
	s.manual = append(s.manual, &job{id: id, program: prog})
	return nil
}

func (s *scheduler) failedJobs() []string {
	return append([]string(nil), s.failed...)
}

func (s *scheduler) pending() int {
	return len(s.jobs) + len(s.manual)
}
