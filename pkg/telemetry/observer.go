package telemetry

import (
	"sync"

	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// Update describes a change of an instance.
type Update struct {
	ObjectID   uint32
	InstanceID uint16
	Data       uavobject.Data
	// Count is the update counter after the change.
	Count uint64
	// Remote indicates the value was delivered by the peer,
	// otherwise it's set locally.
	Remote bool
}

// Observer is notified about updates.
type Observer interface {
	ObjectUpdated(Update)
}

// ObserverFunc is the func form of Observer.
type ObserverFunc func(Update)

// ObjectUpdated implements Observer.
func (f ObserverFunc) ObjectUpdated(u Update) {
	f(u)
}

// Subscription delivers updates to an Observer from its own goroutine,
// in the order they happened.
type Subscription struct {
	manager  *Manager
	objID    uint32
	instID   uint16
	any      bool
	observer Observer

	lock     sync.Mutex
	queue    []Update
	closed   bool
	notifyCh chan struct{}
	doneCh   chan struct{}
}

// RegisterObserver subscribes to updates of one object. With
// uavtalk.AllInstances every instance is observed.
func (m *Manager) RegisterObserver(objID uint32, instID uint16, observer Observer) (*Subscription, error) {
	def, ok := m.dict.Lookup(objID)
	if !ok {
		return nil, ErrUnknownObject
	}
	if def.SingleInstance {
		instID = uavtalk.AllInstances
	}
	return m.subscribe(&Subscription{objID: objID, instID: instID, observer: observer}), nil
}

// Observe subscribes to updates of every object.
func (m *Manager) Observe(observer Observer) *Subscription {
	return m.subscribe(&Subscription{any: true, instID: uavtalk.AllInstances, observer: observer})
}

func (m *Manager) subscribe(s *Subscription) *Subscription {
	s.manager = m
	s.notifyCh = make(chan struct{}, 1)
	s.doneCh = make(chan struct{})
	m.subsLock.Lock()
	m.subs[s] = struct{}{}
	m.subsLock.Unlock()
	go s.run()
	return s
}

func (m *Manager) notify(u Update) {
	m.subsLock.Lock()
	defer m.subsLock.Unlock()
	for s := range m.subs {
		if s.matches(u) {
			s.enqueue(u)
		}
	}
}

func (m *Manager) closeSubscriptions() {
	m.subsLock.Lock()
	subs := m.subs
	m.subs = make(map[*Subscription]struct{})
	m.subsLock.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (s *Subscription) matches(u Update) bool {
	if s.any {
		return true
	}
	return s.objID == u.ObjectID && (s.instID == uavtalk.AllInstances || s.instID == u.InstanceID)
}

func (s *Subscription) enqueue(u Update) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.queue = append(s.queue, u)
	s.lock.Unlock()
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			return
		}
		queue := s.queue
		s.queue = nil
		s.lock.Unlock()
		for _, u := range queue {
			s.observer.ObjectUpdated(u)
		}
		select {
		case <-s.notifyCh:
		case <-s.doneCh:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.closed {
		s.closed = true
		s.queue = nil
		close(s.doneCh)
	}
}

// Close stops delivering updates. Queued updates are dropped.
func (s *Subscription) Close() error {
	s.manager.subsLock.Lock()
	delete(s.manager.subs, s)
	s.manager.subsLock.Unlock()
	s.stop()
	return nil
}
