package status

import (
	"context"
	"time"

	"github.com/loykin/mcpanel/internal/probe"
)

// monitor is the background loop bound to one state. Only one exists at a
// time; gen identifies it so results from a replaced loop are discarded.
type monitor struct {
	state  Status
	gen    uint64
	cancel context.CancelFunc
}

// ActiveMonitor returns the state whose monitor is running, or "" when none
// is. A starting monitor exists only when a start timeout is configured.
func (m *Manager) ActiveMonitor() Status {
	m.transMu.Lock()
	defer m.transMu.Unlock()
	if m.mon == nil {
		return ""
	}
	return m.mon.state
}

// stopMonitorLocked cancels the current monitor without waiting for it. The
// generation bump invalidates any probe it still has in flight.
func (m *Manager) stopMonitorLocked() {
	if m.mon != nil {
		m.mon.cancel()
		m.mon = nil
	}
	m.gen++
}

func (m *Manager) switchMonitorLocked(next Status, destroyed bool) {
	m.stopMonitorLocked()
	if destroyed {
		return
	}
	switch next {
	case Running:
		m.startMonitorLocked(next, func(ctx context.Context, gen uint64) {
			m.poll(ctx, gen, m.opts.RunningInterval)
		})
	case Stopping:
		m.startMonitorLocked(next, func(ctx context.Context, gen uint64) {
			m.poll(ctx, gen, m.opts.StoppingInterval)
		})
	case Starting:
		if m.opts.StartTimeout > 0 {
			m.startMonitorLocked(next, func(ctx context.Context, gen uint64) {
				m.startDeadline(ctx, gen, m.opts.StartTimeout)
			})
		}
	}
}

func (m *Manager) startMonitorLocked(state Status, run func(ctx context.Context, gen uint64)) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mon = &monitor{state: state, gen: m.gen, cancel: cancel}
	gen := m.gen
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		run(ctx, gen)
	}()
}

// poll re-runs the process probe every interval. A vanished process moves
// the machine to stopped, which is crash detection while running and stop
// completion while stopping.
func (m *Manager) poll(ctx context.Context, gen uint64, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := m.findProcess(ctx)
			if ctx.Err() != nil {
				return
			}
			m.applyPoll(gen, r)
		}
	}
}

func (m *Manager) applyPoll(gen uint64, r probe.ProcessResult) {
	m.transMu.Lock()
	defer m.transMu.Unlock()
	if gen != m.gen {
		m.logger.Debug("discarding stale probe result", "found", r.Found)
		return
	}
	m.recordProbe(r)
	if r.Found {
		return
	}
	if prev := m.Status(); prev == Running {
		m.logger.Warn("server process disappeared", "from", prev)
	}
	m.commitLocked(Stopped)
}

// startDeadline bounds the starting state. When it fires the process probe
// decides the outcome: a live process means the banner was missed.
func (m *Manager) startDeadline(ctx context.Context, gen uint64, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	r := m.findProcess(ctx)
	if ctx.Err() != nil {
		return
	}

	m.transMu.Lock()
	defer m.transMu.Unlock()
	if gen != m.gen {
		return
	}
	m.recordProbe(r)
	m.logger.Warn("startup completion not seen before timeout", "timeout", d, "processFound", r.Found)
	if r.Found {
		m.commitLocked(Running)
	} else {
		m.commitLocked(Stopped)
	}
}
