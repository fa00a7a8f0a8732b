package client

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

// Launcher starts and stops the engine process.
type Launcher interface {
	Start(ctx context.Context) error
	Running() bool
	Kill() error
}

// EngineSubcommand is the argument that selects engine mode.
const EngineSubcommand = "engine"

// ExecLauncher runs "<executable> engine" as a child process.
type ExecLauncher struct {
	path string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// NewExecLauncher returns a launcher for path. An empty path means the
// running executable.
func NewExecLauncher(path string, extraArgs ...string) (*ExecLauncher, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Component("client").
				Category(errors.CategoryProcess).
				Context("operation", "resolve-executable").
				Build()
		}
		path = exe
	}
	return &ExecLauncher{
		path: path,
		args: append([]string{EngineSubcommand}, extraArgs...),
	}, nil
}

// Path returns the engine executable.
func (l *ExecLauncher) Path() string { return l.path }

// Start launches the engine unless one is already running. The process is
// not tied to ctx; it is stopped with a quit command or Kill.
func (l *ExecLauncher) Start(_ context.Context) error {
	if l.Running() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := exec.Command(l.path, l.args...) //nolint:gosec // path is the configured engine binary
	setupProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryProcess).
			Context("operation", "start-engine").
			Context("path", l.path).
			Build()
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	l.cmd = cmd
	l.exited = exited

	GetLogger().Info("engine process launched",
		logger.String("path", l.path),
		logger.Int("pid", cmd.Process.Pid))
	return nil
}

// Running reports whether our child, or any other engine process started
// from the same executable, is alive.
func (l *ExecLauncher) Running() bool {
	l.mu.Lock()
	exited := l.exited
	l.mu.Unlock()

	if exited != nil {
		select {
		case <-exited:
		default:
			return true
		}
	}
	return len(l.strays()) > 0
}

// Kill terminates our child and any stray engine processes.
func (l *ExecLauncher) Kill() error {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()

	var errs []error
	if cmd != nil && cmd.Process != nil {
		select {
		case <-exited:
		default:
			if err := killProcessGroup(cmd); err != nil {
				errs = append(errs, err)
			}
			<-exited
		}
	}

	for _, p := range l.strays() {
		GetLogger().Warn("killing stray engine process", logger.Int("pid", int(p.Pid)))
		if err := p.Kill(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return errors.New(err).
			Component("client").
			Category(errors.CategoryProcess).
			Context("operation", "kill-engine").
			Build()
	}
	return nil
}

// strays lists processes running the engine executable in engine mode,
// excluding this process.
func (l *ExecLauncher) strays() []*process.Process {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	self := int32(os.Getpid()) //nolint:gosec // pids fit in int32
	name := filepath.Base(l.path)

	var out []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		if n, err := p.Name(); err != nil || n != name {
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil || !slices.Contains(args, EngineSubcommand) {
			continue
		}
		if running, err := p.IsRunning(); err == nil && running {
			out = append(out, p)
		}
	}
	return out
}
