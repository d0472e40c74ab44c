package procs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"ladder_go/internal/domain"
)

// ExecRuntime runs each unit as a child process: the configured command followed by
// "-worker <unit>". Children share the parent's stdout and stderr.
type ExecRuntime struct {
	command   []string
	killGrace time.Duration

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	unit string
	id   string
	cmd  *exec.Cmd

	mu      sync.Mutex
	done    bool
	status  domain.ExitStatus
	waiters []func(domain.ExitStatus)
}

func (p *process) Unit() string { return p.unit }
func (p *process) ID() string   { return p.id }

// NewExecRuntime creates a runtime launching command (binary plus leading args).
func NewExecRuntime(command []string) *ExecRuntime {
	return &ExecRuntime{
		command:   command,
		killGrace: 5 * time.Second,
		procs:     make(map[string]*process),
	}
}

// SelfCommand re-executes the running binary with the given config file.
func SelfCommand(configPath string) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return []string{exe, "-config", configPath}, nil
}

// Spawn starts the unit's process.
func (r *ExecRuntime) Spawn(ctx context.Context, unit string) (domain.WorkerHandle, error) {
	if len(r.command) == 0 {
		return nil, &domain.SpawnError{Unit: unit, Err: errors.New("no command configured")}
	}

	args := append(append([]string(nil), r.command[1:]...), "-worker", unit)
	// Not bound to ctx: workers are stopped through Kill only.
	cmd := exec.Command(r.command[0], args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, &domain.SpawnError{Unit: unit, Err: err}
	}

	p := &process{
		unit: unit,
		id:   unit + "-" + strconv.Itoa(cmd.Process.Pid),
		cmd:  cmd,
	}

	r.mu.Lock()
	r.procs[p.id] = p
	r.mu.Unlock()

	go r.wait(p)

	slog.Debug("Worker process started", slog.String("unit", unit), slog.Int("pid", cmd.Process.Pid))
	return p, nil
}

func (r *ExecRuntime) wait(p *process) {
	err := p.cmd.Wait()

	status := domain.ExitStatus{Unit: p.unit, Code: p.cmd.ProcessState.ExitCode()}
	if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Code = -1
		status.Signal = ws.Signal().String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}

	r.mu.Lock()
	delete(r.procs, p.id)
	r.mu.Unlock()

	p.mu.Lock()
	p.done = true
	p.status = status
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, fn := range waiters {
		fn(status)
	}
}

// Kill sends SIGTERM and escalates to SIGKILL if the process lingers.
// Killing an exited process is not an error.
func (r *ExecRuntime) Kill(h domain.WorkerHandle) error {
	p, ok := h.(*process)
	if !ok {
		return fmt.Errorf("foreign worker handle %T", h)
	}

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}

	go func() {
		timer := time.NewTimer(r.killGrace)
		defer timer.Stop()
		exited := make(chan struct{})
		r.OnExit(p, func(domain.ExitStatus) { close(exited) })
		select {
		case <-exited:
		case <-timer.C:
			slog.Warn("Worker ignored SIGTERM, killing", slog.String("unit", p.unit))
			_ = p.cmd.Process.Kill()
		}
	}()
	return nil
}

// OnExit registers fn for the process exit; it runs immediately if the process already exited.
func (r *ExecRuntime) OnExit(h domain.WorkerHandle, fn func(domain.ExitStatus)) {
	p, ok := h.(*process)
	if !ok {
		return
	}

	p.mu.Lock()
	if p.done {
		status := p.status
		p.mu.Unlock()
		fn(status)
		return
	}
	p.waiters = append(p.waiters, fn)
	p.mu.Unlock()
}

// running returns the number of live child processes.
func (r *ExecRuntime) running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}
