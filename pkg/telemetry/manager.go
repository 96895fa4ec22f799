package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/uavtalk.go/pkg/framework"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

// Link is the part of the protocol engine used by Manager.
type Link interface {
	SendObject(objID uint32, instID uint16, payload []byte, requireAck bool) (*uavtalk.Transaction, error)
	RequestObject(objID uint32, instID uint16) (*uavtalk.Transaction, error)
}

// Side selects which direction of metadata drives outbound traffic.
type Side int

// Sides of the link.
const (
	// SideGCS sends according to GCSTelemetry* metadata.
	SideGCS Side = iota
	// SideFlight sends according to Telemetry* metadata.
	SideFlight
)

// String implements fmt.Stringer.
func (s Side) String() string {
	if s == SideFlight {
		return "flight"
	}
	return "gcs"
}

// Default knobs.
const (
	DefaultRetries       = 2
	DefaultSchedulerTick = 10 * time.Millisecond
)

// outbound is the metadata of one direction.
type outbound struct {
	acked  bool
	mode   uavobject.UpdateMode
	period time.Duration
}

func (s Side) outbound(md uavobject.Metadata) outbound {
	if s == SideFlight {
		return outbound{acked: md.TelemetryAcked, mode: md.TelemetryUpdateMode, period: md.TelemetryUpdatePeriod}
	}
	return outbound{acked: md.GCSTelemetryAcked, mode: md.GCSTelemetryUpdateMode, period: md.GCSTelemetryUpdatePeriod}
}

// updateSignal is closed when the next update of an instance is delivered.
// data and count are written before close.
type updateSignal struct {
	ch    chan struct{}
	data  uavobject.Data
	count uint64
}

func newUpdateSignal() *updateSignal {
	return &updateSignal{ch: make(chan struct{})}
}

type instance struct {
	data     uavobject.Data
	count    uint64
	signal   *updateSignal
	dirty    bool
	lastSent time.Time
}

type objectState struct {
	def       *uavobject.Definition
	instances map[uint16]*instance
}

func (o *objectState) instanceIDs() []uint16 {
	ids := make([]uint16, 0, len(o.instances))
	for id := range o.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Manager mirrors the object instances shared with the peer.
type Manager struct {
	Side          Side
	Retries       int
	SchedulerTick time.Duration

	dict *uavobject.Dictionary
	link Link

	lock    sync.Mutex
	objects map[uint32]*objectState

	subsLock sync.Mutex
	subs     map[*Subscription]struct{}

	// serializes SetMetadata so the local record follows the peer.
	metaLock sync.Mutex
	// keeps packed values in order on the link.
	sendLock sync.Mutex

	runLock sync.Mutex
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// NewManager creates a Manager sending through link.
func NewManager(dict *uavobject.Dictionary, link Link) *Manager {
	return &Manager{
		Retries:       DefaultRetries,
		SchedulerTick: DefaultSchedulerTick,
		dict:          dict,
		link:          link,
		objects:       make(map[uint32]*objectState),
		subs:          make(map[*Subscription]struct{}),
	}
}

// NewEngineManager creates a Manager receiving from and sending through engine.
func NewEngineManager(dict *uavobject.Dictionary, engine *uavtalk.Engine) *Manager {
	m := NewManager(dict, engine)
	engine.Receiver = m
	return m
}

// Dictionary returns the object dictionary.
func (m *Manager) Dictionary() *uavobject.Dictionary {
	return m.dict
}

// resolve validates objID and normalizes instID.
func (m *Manager) resolve(objID uint32, instID uint16) (*uavobject.Definition, uint16, error) {
	def, ok := m.dict.Lookup(objID)
	if !ok {
		return nil, 0, fmt.Errorf("object %08x: %w", objID, ErrUnknownObject)
	}
	if def.SingleInstance {
		if instID != 0 && instID != uavtalk.AllInstances {
			return nil, 0, fmt.Errorf("%s instance %d: %w", def.Name, instID, ErrInvalidInstance)
		}
		return def, 0, nil
	}
	if instID == uavtalk.AllInstances {
		return nil, 0, fmt.Errorf("%s: %w", def.Name, ErrInvalidInstance)
	}
	return def, instID, nil
}

// instanceLocked returns the instance, creating it on first reference.
func (m *Manager) instanceLocked(def *uavobject.Definition, instID uint16) *instance {
	obj := m.objects[def.ID]
	if obj == nil {
		obj = &objectState{def: def, instances: make(map[uint16]*instance)}
		m.objects[def.ID] = obj
	}
	inst := obj.instances[instID]
	if inst == nil {
		inst = &instance{data: def.NewData(), signal: newUpdateSignal()}
		if def.IsMeta() {
			if parent, ok := m.dict.Parent(def.ID); ok {
				inst.data.Unpack(parent.Metadata.Pack())
			}
		}
		obj.instances[instID] = inst
	}
	return inst
}

// metadataLocked returns the current metadata of a data object,
// or the default metadata of a metaobject.
func (m *Manager) metadataLocked(def *uavobject.Definition) uavobject.Metadata {
	if def.IsMeta() {
		return def.Metadata
	}
	meta, ok := m.dict.MetaObject(def.ID)
	if !ok {
		return def.Metadata
	}
	md, err := uavobject.MetadataFrom(m.instanceLocked(meta, 0).data)
	if err != nil {
		return def.Metadata
	}
	return md
}

// Get returns a copy of the last known value. It never blocks.
func (m *Manager) Get(objID uint32, instID uint16) (uavobject.Data, error) {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return uavobject.Data{}, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.instanceLocked(def, instID).data.Clone(), nil
}

// UpdateCount returns the number of values delivered by the peer.
func (m *Manager) UpdateCount(objID uint32, instID uint16) (uint64, error) {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return 0, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.instanceLocked(def, instID).count, nil
}

// Instances lists the known instance ids of an object.
func (m *Manager) Instances(objID uint32) []uint16 {
	m.lock.Lock()
	defer m.lock.Unlock()
	if obj := m.objects[objID]; obj != nil {
		return obj.instanceIDs()
	}
	return nil
}

// Set updates the local value. When persistRemotely is set, the value is
// sent to the peer in the background according to the metadata.
func (m *Manager) Set(objID uint32, instID uint16, data uavobject.Data, persistRemotely bool) error {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return err
	}
	if data.Definition() != def {
		return fmt.Errorf("%s: data of %v: %w", def.Name, data.Definition(), uavobject.ErrTypeMismatch)
	}
	m.lock.Lock()
	inst := m.instanceLocked(def, instID)
	inst.data = data.Clone()
	var send bool
	if persistRemotely {
		out := m.Side.outbound(m.metadataLocked(def))
		if out.mode == uavobject.UpdateModeThrottled && out.period > 0 {
			inst.dirty = true
		} else {
			send = true
		}
	}
	update := Update{ObjectID: def.ID, InstanceID: instID, Data: inst.data.Clone(), Count: inst.count}
	m.lock.Unlock()

	m.notify(update)
	if send {
		go func() {
			if err := m.SendUpdate(context.Background(), def.ID, instID); err != nil {
				glog.Warningf("telemetry: persist %s[%d]: %v", def.Name, instID, err)
			}
		}()
	}
	return nil
}

// SendUpdate sends the current value to the peer and waits for the
// acknowledgement if the metadata requires one. Timeouts are retried.
func (m *Manager) SendUpdate(ctx context.Context, objID uint32, instID uint16) error {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return err
	}
	m.lock.Lock()
	acked := m.Side.outbound(m.metadataLocked(def)).acked
	m.lock.Unlock()
	return m.retry(ctx, func() (*uavtalk.Transaction, error) {
		m.sendLock.Lock()
		defer m.sendLock.Unlock()
		m.lock.Lock()
		inst := m.instanceLocked(def, instID)
		payload := inst.data.Pack()
		inst.lastSent = time.Now()
		inst.dirty = false
		m.lock.Unlock()
		return m.link.SendObject(def.ID, instID, payload, acked)
	})
}

// retry runs a transaction until it doesn't time out, at most Retries+1 times.
func (m *Manager) retry(ctx context.Context, fn func() (*uavtalk.Transaction, error)) error {
	var err error
	for attempt := 0; attempt <= m.Retries; attempt++ {
		var tx *uavtalk.Transaction
		if tx, err = fn(); err != nil {
			return err
		}
		if err = tx.Wait(ctx); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		if !errors.Is(err, uavtalk.ErrTimeout) {
			return err
		}
		glog.V(2).Infof("telemetry: attempt %d timed out", attempt+1)
	}
	return err
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// WaitUpdate blocks until the peer delivers the next value of the instance.
// All concurrent waiters are released by the same update.
func (m *Manager) WaitUpdate(ctx context.Context, objID uint32, instID uint16) (uavobject.Data, error) {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return uavobject.Data{}, err
	}
	m.lock.Lock()
	signal := m.instanceLocked(def, instID).signal
	m.lock.Unlock()
	return waitSignal(ctx, signal)
}

func waitSignal(ctx context.Context, signal *updateSignal) (uavobject.Data, error) {
	select {
	case <-signal.ch:
		return signal.data.Clone(), nil
	case <-ctx.Done():
		return uavobject.Data{}, contextError(ctx.Err())
	}
}

// GetUpdate requests the instance from the peer and returns the delivered value.
func (m *Manager) GetUpdate(ctx context.Context, objID uint32, instID uint16) (uavobject.Data, error) {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return uavobject.Data{}, err
	}
	m.lock.Lock()
	signal := m.instanceLocked(def, instID).signal
	m.lock.Unlock()
	err = m.retry(ctx, func() (*uavtalk.Transaction, error) {
		return m.link.RequestObject(def.ID, instID)
	})
	if err != nil {
		return uavobject.Data{}, err
	}
	return waitSignal(ctx, signal)
}

// RequestAllObjUpdate requests every single-instance object and every known
// instance of multi-instance objects without waiting for the answers.
func (m *Manager) RequestAllObjUpdate() error {
	var errs framework.AggregatedError
	for _, def := range m.dict.Definitions() {
		if def.SingleInstance {
			_, err := m.link.RequestObject(def.ID, 0)
			errs.Add(err)
			continue
		}
		for _, instID := range m.Instances(def.ID) {
			_, err := m.link.RequestObject(def.ID, instID)
			errs.Add(err)
		}
	}
	return errs.Aggregate()
}

// GetMetadata returns the current metadata of a data object.
func (m *Manager) GetMetadata(objID uint32) (uavobject.Metadata, error) {
	def, _, err := m.resolve(objID, 0)
	if err != nil {
		return uavobject.Metadata{}, err
	}
	if def.IsMeta() {
		return uavobject.Metadata{}, fmt.Errorf("%s: %w", def.Name, ErrNotMetaObject)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.metadataLocked(def), nil
}

// SetMetadata sends the metadata to the peer and updates the local record
// once the peer acknowledged it.
func (m *Manager) SetMetadata(ctx context.Context, objID uint32, md uavobject.Metadata) error {
	def, _, err := m.resolve(objID, 0)
	if err != nil {
		return err
	}
	if def.IsMeta() {
		return fmt.Errorf("%s: %w", def.Name, ErrNotMetaObject)
	}
	meta, ok := m.dict.MetaObject(objID)
	if !ok {
		return fmt.Errorf("%s metadata: %w", def.Name, ErrUnknownObject)
	}
	payload := md.Pack()
	m.metaLock.Lock()
	defer m.metaLock.Unlock()
	err = m.retry(ctx, func() (*uavtalk.Transaction, error) {
		return m.link.SendObject(meta.ID, 0, payload, true)
	})
	if err != nil {
		return err
	}
	m.lock.Lock()
	inst := m.instanceLocked(meta, 0)
	inst.data.Unpack(payload)
	update := Update{ObjectID: meta.ID, Data: inst.data.Clone(), Count: inst.count}
	m.lock.Unlock()
	m.notify(update)
	glog.V(2).Infof("telemetry: metadata of %s updated", def.Name)
	return nil
}

// ReceiveObject implements uavtalk.Receiver.
func (m *Manager) ReceiveObject(objID uint32, instID uint16, payload []byte) error {
	def, instID, err := m.resolve(objID, instID)
	if err != nil {
		return err
	}
	m.lock.Lock()
	inst := m.instanceLocked(def, instID)
	if err := inst.data.Unpack(payload); err != nil {
		m.lock.Unlock()
		return err
	}
	inst.count++
	signal := inst.signal
	signal.data, signal.count = inst.data.Clone(), inst.count
	inst.signal = newUpdateSignal()
	update := Update{ObjectID: def.ID, InstanceID: instID, Data: signal.data, Count: inst.count, Remote: true}
	m.lock.Unlock()

	close(signal.ch)
	m.notify(update)
	return nil
}

// ObjectRequested implements uavtalk.Receiver.
func (m *Manager) ObjectRequested(objID uint32, instID uint16) ([]uavtalk.ObjectPayload, error) {
	def, ok := m.dict.Lookup(objID)
	if !ok {
		return nil, fmt.Errorf("object %08x: %w", objID, ErrUnknownObject)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if def.SingleInstance {
		return []uavtalk.ObjectPayload{{Payload: m.instanceLocked(def, 0).data.Pack()}}, nil
	}
	if instID != uavtalk.AllInstances {
		return []uavtalk.ObjectPayload{{InstanceID: instID, Payload: m.instanceLocked(def, instID).data.Pack()}}, nil
	}
	obj := m.objects[objID]
	if obj == nil {
		return nil, nil
	}
	var answers []uavtalk.ObjectPayload
	for _, id := range obj.instanceIDs() {
		answers = append(answers, uavtalk.ObjectPayload{InstanceID: id, Payload: obj.instances[id].data.Pack()})
	}
	return answers, nil
}
