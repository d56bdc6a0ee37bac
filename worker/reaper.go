package worker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Reaper collects exited worker children via SIGCHLD, preventing zombies
// from accumulating as the pool spawns and terminates workers.
type Reaper struct {
	mu     sync.Mutex
	signal chan os.Signal
	stop   chan struct{}
}

// NewReaper starts the reaping goroutine. Call Stop to shut it down.
func NewReaper() *Reaper {
	r := &Reaper{
		signal: make(chan os.Signal, 1),
		stop:   make(chan struct{}),
	}
	signal.Notify(r.signal, syscall.SIGCHLD)
	go r.run()
	return r
}

func (r *Reaper) Stop() {
	signal.Stop(r.signal)
	close(r.stop)
}

func (r *Reaper) run() {
	for {
		select {
		case <-r.stop:
			return
		case <-r.signal:
			r.reapAll()
		}
	}
}

func (r *Reaper) reapAll() {
	var wstatus syscall.WaitStatus

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		// WNOHANG: don't block if there's nothing left to reap.
		pid, err := syscall.Wait4(-1, &wstatus, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		logrus.Debugf("worker: reaped pid %d", pid)
	}
}
