// Package connection establishes and monitors a telemetry session.
//
// A session is established in three steps: the dictionary fingerprint
// published by the peer in DictionaryInfo is compared with the local one,
// then GCSTelemetryStats.Status is sent as HandshakeReq until the peer
// reports HandshakeAck in FlightTelemetryStats, and finally as Connected
// until the peer reports Connected.
package connection

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/telemetry"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// StatsSource provides link statistics published to the peer.
type StatsSource interface {
	Stats() uavtalk.Stats
}

// Default settings of Manager.
const (
	DefaultRetries     = 3
	DefaultStepTimeout = time.Second
	DefaultStatsPeriod = time.Second
)

// Handshake steps reported in ConnectError.
const (
	StepDictionary = "dictionary"
	StepHandshake  = "handshake"
	StepConnect    = "connect"
)

// Manager runs the session state machine on top of the object manager.
type Manager struct {
	Retries     int
	StepTimeout time.Duration
	StatsPeriod time.Duration
	Stats       StatsSource

	objects *telemetry.Manager

	connectLock sync.Mutex
	lock        sync.Mutex
	state       State
	listeners   []StateListener
	lastStats   uavtalk.Stats
	lastStatsAt time.Time
}

// NewManager creates a Manager.
func NewManager(objects *telemetry.Manager) *Manager {
	return &Manager{
		Retries:     DefaultRetries,
		StepTimeout: DefaultStepTimeout,
		StatsPeriod: DefaultStatsPeriod,
		objects:     objects,
	}
}

// NewEngineManager creates a Manager notified of link loss by engine
// and publishing its statistics.
func NewEngineManager(objects *telemetry.Manager, engine *uavtalk.Engine) *Manager {
	m := NewManager(objects)
	m.Stats = engine
	engine.LinkNotifier = m
	return m
}

// Objects returns the object manager.
func (m *Manager) Objects() *telemetry.Manager {
	return m.objects
}

// State returns the current state.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

// Subscribe registers a listener of state changes.
func (m *Manager) Subscribe(l StateListener) {
	m.lock.Lock()
	m.listeners = append(m.listeners, l)
	m.lock.Unlock()
}

func (m *Manager) transit(to State, from ...State) (State, bool) {
	m.lock.Lock()
	current := m.state
	if len(from) > 0 {
		matched := false
		for _, s := range from {
			if s == current {
				matched = true
				break
			}
		}
		if !matched {
			m.lock.Unlock()
			return current, false
		}
	}
	m.state = to
	listeners := append([]StateListener(nil), m.listeners...)
	m.lock.Unlock()
	if current != to {
		glog.Infof("connection: %v -> %v", current, to)
		for _, l := range listeners {
			l.StateChanged(current, to)
		}
	}
	return current, true
}

func (m *Manager) retries() int {
	if m.Retries <= 0 {
		return 1
	}
	return m.Retries
}

// Connect runs the handshake. It returns nil when already connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectLock.Lock()
	defer m.connectLock.Unlock()
	if m.State() == StateConnected {
		return nil
	}
	m.transit(StateHandshaking)
	if err := m.handshake(ctx); err != nil {
		glog.Warningf("connection: %v", err)
		m.transit(StateDisconnected, StateHandshaking)
		return err
	}
	if _, ok := m.transit(StateConnected, StateHandshaking); !ok {
		return &ConnectError{Step: StepConnect, Err: ErrNotConnected}
	}
	return nil
}

func (m *Manager) handshake(ctx context.Context) error {
	if err := m.checkDictionary(ctx); err != nil {
		return err
	}
	statusCh := make(chan string, 16)
	sub, err := m.objects.RegisterObserver(uavobject.FlightTelemetryStatsID, 0, remoteStatusObserver(statusCh))
	if err != nil {
		return &ConnectError{Step: StepHandshake, Err: err}
	}
	defer sub.Close()
	if err := m.exchange(ctx, StepHandshake, uavobject.StatusHandshakeReq, statusCh, uavobject.StatusHandshakeAck); err != nil {
		return err
	}
	return m.exchange(ctx, StepConnect, uavobject.StatusConnected, statusCh, uavobject.StatusConnected)
}

func remoteStatusObserver(statusCh chan<- string) telemetry.Observer {
	return telemetry.ObserverFunc(func(u telemetry.Update) {
		if !u.Remote {
			return
		}
		status, err := u.Data.Enum("Status", 0)
		if err != nil {
			return
		}
		select {
		case statusCh <- status:
		default:
		}
	})
}

func (m *Manager) checkDictionary(ctx context.Context) error {
	dict := m.objects.Dictionary()
	var err error
	for attempt := 0; attempt < m.retries(); attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, m.StepTimeout)
		var data uavobject.Data
		data, err = m.objects.GetUpdate(stepCtx, uavobject.DictionaryInfoID, 0)
		cancel()
		if err == nil {
			hash, _ := data.Uint("Hash", 0)
			num, _ := data.Uint("NumObjects", 0)
			if uint32(hash) != dict.Checksum() {
				return &IncompatibleDictionaryError{
					LocalHash:     dict.Checksum(),
					RemoteHash:    uint32(hash),
					LocalObjects:  dict.NumObjects(),
					RemoteObjects: int(num),
				}
			}
			glog.V(2).Infof("connection: dictionary %08x matched", hash)
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, telemetry.ErrTimeout) {
			break
		}
	}
	return &ConnectError{Step: StepDictionary, Err: err}
}

// exchange sends status until the peer reports expected.
func (m *Manager) exchange(ctx context.Context, step, status string, statusCh <-chan string, expected string) error {
	var err error
	for attempt := 0; attempt < m.retries(); attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, m.StepTimeout)
		if err = m.sendStatus(stepCtx, status); err == nil {
			err = waitStatus(stepCtx, statusCh, expected)
		}
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, telemetry.ErrTimeout) {
			break
		}
		glog.V(2).Infof("connection: %s attempt %d: %v", step, attempt+1, err)
	}
	return &ConnectError{Step: step, Err: err}
}

func waitStatus(ctx context.Context, statusCh <-chan string, expected string) error {
	for {
		select {
		case status := <-statusCh:
			if status == expected {
				return nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return telemetry.ErrTimeout
			}
			return ctx.Err()
		}
	}
}

// sendStatus publishes GCSTelemetryStats with status and current link statistics.
func (m *Manager) sendStatus(ctx context.Context, status string) error {
	data, err := m.objects.Get(uavobject.GCSTelemetryStatsID, 0)
	if err != nil {
		return err
	}
	if err = data.Set("Status", 0, status); err != nil {
		return err
	}
	m.fillStats(data, time.Now())
	if err = m.objects.Set(uavobject.GCSTelemetryStatsID, 0, data, false); err != nil {
		return err
	}
	return m.objects.SendUpdate(ctx, uavobject.GCSTelemetryStatsID, 0)
}

func clampUint32(v uint64) uint64 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return v
}

func (m *Manager) fillStats(data uavobject.Data, now time.Time) {
	if m.Stats == nil {
		return
	}
	stats := m.Stats.Stats()
	m.lock.Lock()
	last, lastAt := m.lastStats, m.lastStatsAt
	m.lastStats, m.lastStatsAt = stats, now
	m.lock.Unlock()
	if !lastAt.IsZero() && stats.TxBytes >= last.TxBytes && stats.RxBytes >= last.RxBytes {
		if elapsed := now.Sub(lastAt).Seconds(); elapsed > 0 {
			data.Set("TxDataRate", 0, float64(stats.TxBytes-last.TxBytes)/elapsed)
			data.Set("RxDataRate", 0, float64(stats.RxBytes-last.RxBytes)/elapsed)
		}
	}
	data.Set("TxFailures", 0, clampUint32(stats.TxErrors))
	data.Set("RxFailures", 0, clampUint32(stats.RxErrors))
}

// Disconnect drops the session and tells the peer.
func (m *Manager) Disconnect() error {
	from, _ := m.transit(StateDisconnected)
	if from == StateDisconnected {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.StepTimeout)
	defer cancel()
	if err := m.sendStatus(ctx, uavobject.StatusDisconnected); err != nil {
		glog.V(2).Infof("connection: disconnect: %v", err)
	}
	return nil
}

// LinkLost implements uavtalk.LinkNotifier.
func (m *Manager) LinkLost(err error) {
	glog.Warningf("connection: link lost: %v", err)
	m.transit(StateDisconnected)
}

// Run implements framework.Runnable. While connected it publishes link
// statistics every StatsPeriod and drops the session when the peer reports
// Disconnected or stops acknowledging.
func (m *Manager) Run(ctx context.Context) error {
	statusCh := make(chan string, 16)
	sub, err := m.objects.RegisterObserver(uavobject.FlightTelemetryStatsID, 0, remoteStatusObserver(statusCh))
	if err != nil {
		return err
	}
	defer sub.Close()
	period := m.StatsPeriod
	if period <= 0 {
		period = DefaultStatsPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var failures int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case status := <-statusCh:
			if status == uavobject.StatusDisconnected {
				if _, ok := m.transit(StateDisconnected, StateConnected); ok {
					glog.Warning("connection: peer disconnected")
				}
			}
		case <-ticker.C:
			if m.State() != StateConnected {
				failures = 0
				continue
			}
			stepCtx, cancel := context.WithTimeout(ctx, m.StepTimeout)
			err := m.sendStatus(stepCtx, uavobject.StatusConnected)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			glog.V(2).Infof("connection: publish stats: %v", err)
			if failures >= m.retries() {
				glog.Warningf("connection: peer not responding: %v", err)
				m.transit(StateDisconnected, StateConnected)
				failures = 0
			}
		}
	}
}
