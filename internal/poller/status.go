package poller

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is a point-in-time snapshot of the poll loop.
type Status struct {
	State          string
	Running        bool
	Checkpoint     uint64
	CheckpointHash common.Hash
	Fresh          bool
	Head           uint64
	LastError      string
	LastErrorAt    time.Time
	LastCycle      time.Time
	Cycles         uint64
}

// Lag returns the number of blocks between the chain head and the checkpoint.
func (s Status) Lag() uint64 {
	if s.Head > s.Checkpoint {
		return s.Head - s.Checkpoint
	}
	return 0
}

// Status returns a snapshot of the loop. Safe for concurrent use.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) updateStatus(fn func(s *Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.status)
}

func (p *Poller) setState(state string) {
	p.updateStatus(func(s *Status) { s.State = state })
	p.metrics.SetState(state)
}

func (p *Poller) setRunning(running bool) {
	p.updateStatus(func(s *Status) { s.Running = running })
}

func (p *Poller) fail(err error) {
	p.updateStatus(func(s *Status) {
		s.LastError = err.Error()
		s.LastErrorAt = time.Now()
	})
}
