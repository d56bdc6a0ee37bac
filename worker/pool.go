package worker

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sid/domain"
)

// ErrPoolExhausted is returned by Checkout when every worker is assigned
// and the pool is already at its configured maximum.
var ErrPoolExhausted = fmt.Errorf("worker: pool exhausted")

// Pool manages a bounded set of worker processes: it hands an idle
// worker to a caller (spawning a new one up to Max if none is idle),
// reclaims workers whose assignment exceeds ExecTimeout, and trims idle
// workers back down to Min (TrimIdle). IdleTimeout is stored but no Pool
// method consults it.
type Pool struct {
	mu      sync.Mutex
	workers map[string]*Worker
	nextID  int

	Min          int
	Max          int
	IdleTimeout  time.Duration
	ExecTimeout  time.Duration

	spawn func(id string) (*Worker, error)
}

// NewPool constructs a Pool backed by real re-exec'd worker processes.
func NewPool(min, max int, idleTimeout, execTimeout time.Duration) *Pool {
	return NewPoolWithSpawner(min, max, idleTimeout, execTimeout, Spawn)
}

// NewPoolWithSpawner constructs a Pool using spawn in place of Spawn --
// tests inject a fake here to avoid forking real processes.
func NewPoolWithSpawner(min, max int, idleTimeout, execTimeout time.Duration, spawn func(id string) (*Worker, error)) *Pool {
	return &Pool{
		workers:     make(map[string]*Worker),
		Min:         min,
		Max:         max,
		IdleTimeout: idleTimeout,
		ExecTimeout: execTimeout,
		spawn:       spawn,
	}
}

// Checkout returns an idle worker, or spawns a new one if none is idle
// and the pool has not reached Max.
func (p *Pool) Checkout() (*Worker, error) {
	p.mu.Lock()
	for _, w := range p.workers {
		if w.State() == domain.WorkerIdle {
			w.setState(domain.WorkerAssigned)
			p.mu.Unlock()
			return w, nil
		}
	}
	if len(p.workers) >= p.Max {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	id := fmt.Sprintf("w%d", p.nextID)
	p.nextID++
	p.mu.Unlock()

	w, err := p.spawn(id)
	if err != nil {
		return nil, err
	}
	w.setState(domain.WorkerAssigned)

	p.mu.Lock()
	p.workers[id] = w
	p.mu.Unlock()

	return w, nil
}

// Checkin retires w after it has yielded -- either by finishing its one
// scan cleanly or by hitting an unrecoverable protocol error (healthy
// distinguishes only which is logged). Spec section 4.6's current
// simplified policy is: "the proxy reacts to YIELD by signalling SIGTERM
// to the worker" -- a worker is strictly single-use, so Checkin never
// returns w to the idle pool for reuse.
func (p *Pool) Checkin(w *Worker, healthy bool) {
	if !healthy {
		logrus.Warnf("worker: %s checked in unhealthy, terminating", w.ID)
	}
	w.setState(domain.WorkerExiting)
	w.Terminate(syscall.SIGTERM)
	p.remove(w.ID)
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	delete(p.workers, id)
	p.mu.Unlock()
}

// Size returns the current worker count and how many are idle.
func (p *Pool) Size() (total, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total = len(p.workers)
	for _, w := range p.workers {
		if w.State() == domain.WorkerIdle {
			idle++
		}
	}
	return total, idle
}

// ReapTimedOut terminates every assigned worker whose AssignedFor
// exceeds ExecTimeout, marking it WorkerTimedOut first so the bridge can
// distinguish a timeout from an orderly checkin (spec section 8 scenario
// 6). Returns the ids reclaimed.
func (p *Pool) ReapTimedOut() []string {
	if p.ExecTimeout <= 0 {
		return nil
	}

	p.mu.Lock()
	var stale []*Worker
	for _, w := range p.workers {
		if w.State() == domain.WorkerAssigned && w.AssignedFor() > p.ExecTimeout {
			stale = append(stale, w)
		}
	}
	p.mu.Unlock()

	var reclaimed []string
	for _, w := range stale {
		w.setState(domain.WorkerTimedOut)
		logrus.Warnf("worker: %s exceeded exec timeout, terminating", w.ID)
		w.Terminate(syscall.SIGKILL)
		p.remove(w.ID)
		reclaimed = append(reclaimed, w.ID)
	}
	return reclaimed
}

// TrimIdle terminates idle workers beyond Min and never shrinks the pool
// below Min. It does not consult IdleTimeout (Pool.workers carries no idle
// timestamp), and which idle workers it picks is not defined: they are
// taken in map iteration order, not oldest first.
func (p *Pool) TrimIdle() []string {
	p.mu.Lock()
	var idleWorkers []*Worker
	for _, w := range p.workers {
		if w.State() == domain.WorkerIdle {
			idleWorkers = append(idleWorkers, w)
		}
	}
	total := len(p.workers)
	p.mu.Unlock()

	excess := total - p.Min
	if excess <= 0 || len(idleWorkers) == 0 {
		return nil
	}
	if excess > len(idleWorkers) {
		excess = len(idleWorkers)
	}

	var trimmed []string
	for _, w := range idleWorkers[:excess] {
		w.Terminate(syscall.SIGTERM)
		p.remove(w.ID)
		trimmed = append(trimmed, w.ID)
	}
	return trimmed
}
