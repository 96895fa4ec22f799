package telemetry

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// Start runs the update scheduler in background.
func (m *Manager) Start() error {
	m.runLock.Lock()
	defer m.runLock.Unlock()
	if m.cancel != nil {
		return uavtalk.ErrRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel, m.doneCh = cancel, make(chan struct{})
	go func(doneCh chan struct{}) {
		defer close(doneCh)
		m.Run(ctx)
	}(m.doneCh)
	return nil
}

// Close stops the scheduler and all subscriptions.
func (m *Manager) Close() error {
	m.runLock.Lock()
	cancel, doneCh := m.cancel, m.doneCh
	m.cancel, m.doneCh = nil, nil
	m.runLock.Unlock()
	if cancel != nil {
		cancel()
		<-doneCh
	}
	m.closeSubscriptions()
	return nil
}

// Run implements framework.Runnable. It sends periodic objects and flushes
// throttled changes until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	tick := m.SchedulerTick
	if tick <= 0 {
		tick = DefaultSchedulerTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.schedule(now)
		}
	}
}

type scheduledSend struct {
	def     *uavobject.Definition
	instID  uint16
	payload []byte
	acked   bool
}

func (m *Manager) schedule(now time.Time) {
	var sends []scheduledSend
	m.sendLock.Lock()
	defer m.sendLock.Unlock()
	m.lock.Lock()
	for _, def := range m.dict.Definitions() {
		if def.IsMeta() {
			continue
		}
		out := m.Side.outbound(m.metadataLocked(def))
		if !out.mode.UsesPeriod() || out.period <= 0 {
			continue
		}
		if def.SingleInstance {
			m.instanceLocked(def, 0)
		}
		obj := m.objects[def.ID]
		if obj == nil {
			continue
		}
		for instID, inst := range obj.instances {
			if now.Sub(inst.lastSent) < out.period {
				continue
			}
			if out.mode == uavobject.UpdateModeThrottled && !inst.dirty {
				continue
			}
			inst.lastSent, inst.dirty = now, false
			sends = append(sends, scheduledSend{def: def, instID: instID, payload: inst.data.Pack(), acked: out.acked})
		}
	}
	m.lock.Unlock()

	for _, s := range sends {
		tx, err := m.link.SendObject(s.def.ID, s.instID, s.payload, s.acked)
		if err != nil {
			glog.Warningf("telemetry: send %s[%d]: %v", s.def.Name, s.instID, err)
			continue
		}
		if s.acked {
			go func(s scheduledSend) {
				<-tx.Done()
				if err := tx.Err(); err != nil {
					glog.V(2).Infof("telemetry: scheduled %s[%d]: %v", s.def.Name, s.instID, err)
				}
			}(s)
		}
	}
}
