package uavtalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/robotalks/uavtalk.go/pkg/uavobject"
)

// Transport is the byte stream the engine runs on.
type Transport interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds every Read. A Read returning (0, nil) or
	// a timeout error means no data yet.
	SetReadTimeout(time.Duration) error
}

// ObjectPayload is the packed data of one instance.
type ObjectPayload struct {
	InstanceID uint16
	Payload    []byte
}

// Receiver consumes objects from the peer.
type Receiver interface {
	// ReceiveObject applies an incoming OBJ/OBJ_ACK. When it fails,
	// the frame is dropped and not acknowledged.
	ReceiveObject(objID uint32, instID uint16, payload []byte) error
	// ObjectRequested returns the instances answering an OBJ_REQ.
	// An error makes the engine reply NACK.
	ObjectRequested(objID uint32, instID uint16) ([]ObjectPayload, error)
}

// LinkNotifier is called when the transport fails.
type LinkNotifier interface {
	LinkLost(err error)
}

// LinkLostFunc is func type of LinkNotifier.
type LinkLostFunc func(error)

// LinkLost implements LinkNotifier.
func (f LinkLostFunc) LinkLost(err error) {
	f(err)
}

// Engine exchanges objects with the peer over a Transport.
type Engine struct {
	Transport      Transport
	Objects        ObjectLookup
	Receiver       Receiver
	LinkNotifier   LinkNotifier
	ReadTimeout    time.Duration
	Timeout        time.Duration
	ReadBufferSize int

	txLock  sync.Mutex
	pending pendingTable
	stats   statsCounter

	runLock sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	linkErr *LinkError
}

// Default settings of Engine.
const (
	DefaultReadTimeout    = 100 * time.Millisecond
	DefaultTimeout        = 500 * time.Millisecond
	DefaultReadBufferSize = 256
)

// NewEngine creates an Engine.
func NewEngine(t Transport, objects ObjectLookup) *Engine {
	return &Engine{
		Transport:      t,
		Objects:        objects,
		ReadTimeout:    DefaultReadTimeout,
		Timeout:        DefaultTimeout,
		ReadBufferSize: DefaultReadBufferSize,
	}
}

// Stats returns a snapshot of traffic counters.
func (e *Engine) Stats() Stats {
	return e.stats.get()
}

// ResetStats clears traffic counters.
func (e *Engine) ResetStats() {
	e.stats.reset()
}

// PendingTransactions returns the number of outstanding transactions.
func (e *Engine) PendingTransactions() int {
	return e.pending.size()
}

// IsRunning indicates the receive loop is running.
func (e *Engine) IsRunning() bool {
	e.runLock.Lock()
	defer e.runLock.Unlock()
	return e.running
}

// Start runs the receive loop in the background.
func (e *Engine) Start() error {
	ctx, err := e.begin(context.Background())
	if err != nil {
		return err
	}
	go e.run(ctx)
	return nil
}

// Stop stops the receive loop and fails all pending transactions.
func (e *Engine) Stop() error {
	e.runLock.Lock()
	cancel, doneCh := e.cancel, e.doneCh
	e.runLock.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-doneCh
	return nil
}

// Run implements Runnable.
func (e *Engine) Run(ctx context.Context) error {
	ctx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	return e.run(ctx)
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	ctx, cancel := context.WithCancel(ctx)
	e.runLock.Lock()
	defer e.runLock.Unlock()
	if e.running {
		cancel()
		return nil, ErrRunning
	}
	e.running, e.cancel, e.linkErr = true, cancel, nil
	e.doneCh = make(chan struct{})
	e.pending.open()
	return ctx, nil
}

func (e *Engine) run(ctx context.Context) error {
	err := e.receive(ctx)

	e.runLock.Lock()
	cancel, doneCh, linkErr := e.cancel, e.doneCh, e.linkErr
	e.running, e.cancel = false, nil
	e.runLock.Unlock()
	cancel()
	defer close(doneCh)

	if linkErr == nil {
		errors.As(err, &linkErr)
	}
	if linkErr != nil {
		glog.Errorf("uavtalk: %v", linkErr)
		e.pending.close(linkErr)
		if n := e.LinkNotifier; n != nil {
			n.LinkLost(linkErr.Err)
		}
		return linkErr
	}
	e.pending.close(ErrStopped)
	return err
}

func (e *Engine) receive(ctx context.Context) error {
	if err := e.Transport.SetReadTimeout(e.ReadTimeout); err != nil {
		return &LinkError{Err: err}
	}
	size := e.ReadBufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	parser := NewParser(e.Objects)
	buf := make([]byte, size)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := e.Transport.Read(buf)
		if n > 0 {
			e.stats.update(func(s *Stats) { s.RxBytes += uint64(n) })
			for _, b := range buf[:n] {
				e.applyParseResult(parser.Parse(b))
			}
		}
		if err != nil && !isTimeout(err) {
			return &LinkError{Err: err}
		}
	}
}

func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func (e *Engine) applyParseResult(pr ParseResult) {
	if err := pr.Err; err != nil {
		if err == ErrNoSync {
			return
		}
		glog.V(2).Infof("uavtalk: drop frame: %v", err)
		e.stats.update(func(s *Stats) {
			s.RxErrors++
			if err == ErrUnknownObject {
				s.RxUnknown++
			}
		})
		return
	}
	if f := pr.Frame; f != nil {
		glog.V(4).Infof("uavtalk: rx %v", f)
		e.stats.update(func(s *Stats) {
			s.RxObjects++
			s.RxObjectBytes += uint64(len(f.Payload))
		})
		e.dispatch(f)
	}
}

func (e *Engine) dispatch(f *Frame) {
	switch f.Type {
	case TypeObject, TypeObjectAck:
		if r := e.Receiver; r != nil {
			if err := r.ReceiveObject(f.ObjectID, f.InstanceID, f.Payload); err != nil {
				glog.Warningf("uavtalk: drop %v: %v", f, err)
				e.stats.update(func(s *Stats) { s.RxErrors++ })
				return
			}
		}
		if f.Type == TypeObjectAck {
			e.write(&Frame{Type: TypeAck, ObjectID: f.ObjectID, InstanceID: f.InstanceID, HasInstance: f.HasInstance})
		}
		e.pending.resolve(transactionKey{objID: f.ObjectID, instID: f.InstanceID, kind: kindRequest}, nil)
		e.pending.resolve(transactionKey{objID: f.ObjectID, instID: AllInstances, kind: kindRequest}, nil)
	case TypeObjectRequest:
		e.answerRequest(f)
	case TypeAck:
		if !e.pending.resolve(transactionKey{objID: f.ObjectID, instID: f.InstanceID, kind: kindAck}, nil) {
			glog.V(2).Infof("uavtalk: unmatched %v", f)
		}
	case TypeNack:
		if e.pending.rejectObject(f.ObjectID, ErrNack) == 0 {
			glog.V(2).Infof("uavtalk: unmatched %v", f)
		}
	}
}

func (e *Engine) answerRequest(f *Frame) {
	def, known := e.Objects.Lookup(f.ObjectID)
	var answers []ObjectPayload
	err := ErrUnknownObject
	if known && e.Receiver != nil {
		if answers, err = e.Receiver.ObjectRequested(f.ObjectID, f.InstanceID); err == nil && len(answers) == 0 {
			err = ErrUnknownObject
		}
	}
	if err != nil {
		glog.V(2).Infof("uavtalk: NACK %v: %v", f, err)
		if !known {
			e.stats.update(func(s *Stats) { s.RxUnknown++ })
		}
		e.write(&Frame{Type: TypeNack, ObjectID: f.ObjectID})
		return
	}
	for _, answer := range answers {
		if e.write(NewFrame(TypeObject, def, answer.InstanceID, answer.Payload)) != nil {
			return
		}
	}
}

// write sends a frame. A transport error brings the link down.
func (e *Engine) write(f *Frame) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	e.txLock.Lock()
	_, err = e.Transport.Write(b)
	e.txLock.Unlock()
	if err != nil {
		e.stats.update(func(s *Stats) { s.TxErrors++ })
		return e.linkLost(err)
	}
	glog.V(4).Infof("uavtalk: tx %v", f)
	e.stats.update(func(s *Stats) {
		s.TxBytes += uint64(len(b))
		s.TxObjects++
		s.TxObjectBytes += uint64(len(f.Payload))
	})
	return nil
}

func (e *Engine) linkLost(err error) error {
	linkErr := &LinkError{Err: err}
	e.runLock.Lock()
	if e.running && e.linkErr == nil {
		e.linkErr = linkErr
		e.cancel()
	}
	e.runLock.Unlock()
	return linkErr
}

func (e *Engine) lookup(objID uint32, instID uint16) (*uavobject.Definition, uint16, error) {
	def, ok := e.Objects.Lookup(objID)
	if !ok {
		return nil, 0, fmt.Errorf("object %08x: %w", objID, ErrUnknownObject)
	}
	if def.SingleInstance {
		instID = 0
	}
	return def, instID, nil
}

// SendObject sends an object instance. With requireAck, the returned
// Transaction completes on ACK, NACK or timeout. Otherwise it's completed
// once the frame is written.
func (e *Engine) SendObject(objID uint32, instID uint16, payload []byte, requireAck bool) (*Transaction, error) {
	def, instID, err := e.lookup(objID, instID)
	if err != nil {
		return nil, err
	}
	if instID == AllInstances && !def.SingleInstance {
		return nil, fmt.Errorf("%s: send to all instances: %w", def.Name, ErrInvalidInstance)
	}
	if len(payload) != def.NumBytes() {
		return nil, fmt.Errorf("%s: %d bytes: %w", def.Name, len(payload), uavobject.ErrSizeMismatch)
	}
	if !requireAck {
		return resolvedTransaction(e.write(NewFrame(TypeObject, def, instID, payload))), nil
	}
	return e.transact(transactionKey{objID: objID, instID: instID, kind: kindAck},
		NewFrame(TypeObjectAck, def, instID, payload))
}

// RequestObject asks the peer for an object instance. The returned
// Transaction completes when the object arrives, on NACK or timeout.
// Requesting AllInstances completes on any instance.
func (e *Engine) RequestObject(objID uint32, instID uint16) (*Transaction, error) {
	def, instID, err := e.lookup(objID, instID)
	if err != nil {
		return nil, err
	}
	return e.transact(transactionKey{objID: objID, instID: instID, kind: kindRequest},
		NewFrame(TypeObjectRequest, def, instID, nil))
}

// transact registers a transaction and sends the frame. A request joining
// an outstanding transaction of the same key is not sent again, neither is
// an acked send of the same payload. An acked send of a different payload
// is sent after the outstanding one completes.
func (e *Engine) transact(key transactionKey, f *Frame) (*Transaction, error) {
	tx, prev, joined, err := e.pending.add(key, f.Payload, e.Timeout)
	if err != nil {
		return nil, err
	}
	if joined {
		glog.V(4).Infof("uavtalk: join pending %v", f)
		return tx, nil
	}
	if prev == nil {
		e.send(key, tx, f)
		return tx, nil
	}
	glog.V(4).Infof("uavtalk: queue %v", f)
	timeout := e.Timeout
	go func() {
		<-prev.Done()
		if err := e.pending.activate(key, tx, timeout); err != nil {
			e.pending.complete(key, tx, err)
			return
		}
		e.send(key, tx, f)
	}()
	return tx, nil
}

func (e *Engine) send(key transactionKey, tx *Transaction, f *Frame) {
	if err := e.write(f); err != nil {
		e.pending.complete(key, tx, err)
	}
}
