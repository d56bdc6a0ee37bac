package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sid/domain"
)

// ReExecArg is the hidden argv[1] a re-exec'd worker process recognizes,
// the same "nsenter"-style convention the teacher uses to distinguish a
// forked helper invocation from a normal daemon start. cmd/sid registers
// it as a hidden CLI subcommand name so the same constant drives both
// Spawn's re-exec and the daemon's command routing.
const ReExecArg = "sid-worker"

// IsWorkerReExec reports whether the current process was launched as a
// worker (argv[1] == ReExecArg).
func IsWorkerReExec(args []string) bool {
	return len(args) > 1 && args[1] == ReExecArg
}

// Worker is one re-exec'd helper process bound to a single framed
// channel back to the proxy.
type Worker struct {
	mu sync.Mutex

	ID    string
	cmd   *exec.Cmd
	conn  *os.File
	state domain.WorkerState

	assignedAt time.Time
}

// ParentPidEnv carries the spawning daemon's pid into a re-exec'd
// worker, so it can re-check getppid() against the parent it actually
// expects after PR_SET_PDEATHSIG arms (spec section 4.6: "re-check
// getppid() against the captured parent PID and self-terminate on
// mismatch").
const ParentPidEnv = "SID_WORKER_PPID"

// Spawn forks a new worker process: re-exec's the current binary with
// ReExecArg, handing it the child half of a stream socketpair as its
// framed channel (spec sections 4.6, 9). Scan workers are "internal"
// workers in spec terms, so PR_SET_PDEATHSIG is armed with SIGUSR1
// rather than SIGTERM; an orphaned worker exits if the daemon dies
// first.
func Spawn(id string) (*Worker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("worker: socketpair: %w", err)
	}

	parentConn := os.NewFile(uintptr(fds[0]), "sid-worker-parent")
	childConn := os.NewFile(uintptr(fds[1]), "sid-worker-child")

	cmd := &exec.Cmd{
		Path:       "/proc/self/exe",
		Args:       []string{os.Args[0], ReExecArg, id},
		ExtraFiles: []*os.File{childConn},
		Env:        append(os.Environ(), fmt.Sprintf("%s=%d", ParentPidEnv, os.Getpid())),
		Stdin:      nil,
		Stdout:     os.Stderr,
		Stderr:     os.Stderr,
		SysProcAttr: &syscall.SysProcAttr{
			Pdeathsig: syscall.SIGUSR1,
		},
	}

	if err := cmd.Start(); err != nil {
		parentConn.Close()
		childConn.Close()
		return nil, fmt.Errorf("worker: starting %s: %w", id, err)
	}
	childConn.Close()

	// Hand the worker its channel's shape before any framed traffic begins
	// (spec section 4.6: "channels are paired on both sides at fork time").
	handshake := encodeHandshake(domain.ChannelSpec{
		Kind: domain.ChannelSocketpair,
		Dir:  domain.DirToWorker,
		Name: id,
	}, domain.TagNoop)
	if _, err := parentConn.Write(handshake); err != nil {
		parentConn.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("worker: writing handshake to %s: %w", id, err)
	}

	logrus.Infof("worker: spawned %s as pid %d", id, cmd.Process.Pid)

	return &Worker{
		ID:    id,
		cmd:   cmd,
		conn:  parentConn,
		state: domain.WorkerNew,
	}, nil
}

// NewFakeWorker builds a Worker with no backing process or channel, for
// tests elsewhere in the module that need a Pool populated without
// forking (e.g. via NewPoolWithSpawner).
func NewFakeWorker(id string) *Worker {
	return &Worker{ID: id, state: domain.WorkerNew}
}

// CheckParentOrExit re-checks getppid() against the pid Spawn recorded
// in ParentPidEnv and exits immediately on mismatch, closing the race
// between fork and PR_SET_PDEATHSIG arming (spec section 4.6). A worker
// launched outside of Spawn (e.g. directly, for manual testing) has no
// such env var and is left alone.
func CheckParentOrExit() {
	raw := os.Getenv(ParentPidEnv)
	if raw == "" {
		return
	}
	expected, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	if os.Getppid() != expected {
		logrus.Errorf("worker: parent pid mismatch (expected %d, got %d), exiting", expected, os.Getppid())
		os.Exit(1)
	}
}

func (w *Worker) Conn() *os.File { return w.conn }

func (w *Worker) Pid() int {
	if w.cmd == nil || w.cmd.Process == nil {
		return -1
	}
	return w.cmd.Process.Pid
}

func (w *Worker) State() domain.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s domain.WorkerState) {
	w.mu.Lock()
	w.state = s
	if s == domain.WorkerAssigned {
		w.assignedAt = time.Now()
	}
	w.mu.Unlock()
}

// AssignedFor reports how long the worker has held its current
// assignment; used by the pool's exec-timeout monitor.
func (w *Worker) AssignedFor() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.assignedAt.IsZero() {
		return 0
	}
	return time.Since(w.assignedAt)
}

// Terminate sends sig to the worker process and closes its channel. It
// does not wait for the process to exit -- the pool's reaper collects it.
func (w *Worker) Terminate(sig syscall.Signal) {
	w.setState(domain.WorkerExiting)
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(sig)
	}
	w.conn.Close()
}
