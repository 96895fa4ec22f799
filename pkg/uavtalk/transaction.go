package uavtalk

import (
	"bytes"
	"context"
	"sync"
	"time"
)

type transactionKind int

const (
	kindRequest transactionKind = iota // waiting for OBJ
	kindAck                            // waiting for ACK
)

type transactionKey struct {
	objID  uint32
	instID uint16
	kind   transactionKind
}

// Transaction represents a pending exchange waiting for the peer.
type Transaction struct {
	doneCh  chan struct{}
	err     error
	once    sync.Once
	timer   *time.Timer
	payload []byte
}

func newTransaction() *Transaction {
	return &Transaction{doneCh: make(chan struct{})}
}

// resolvedTransaction creates a Transaction already completed with err.
func resolvedTransaction(err error) *Transaction {
	t := newTransaction()
	t.resolve(err)
	return t
}

func (t *Transaction) resolve(err error) {
	t.once.Do(func() {
		if t.timer != nil {
			t.timer.Stop()
		}
		t.err = err
		close(t.doneCh)
	})
}

// Done is closed when the transaction completes.
func (t *Transaction) Done() <-chan struct{} {
	return t.doneCh
}

func (t *Transaction) isDone() bool {
	select {
	case <-t.doneCh:
		return true
	default:
		return false
	}
}

// Err returns the result after Done is closed, nil before.
func (t *Transaction) Err() error {
	select {
	case <-t.doneCh:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the transaction completes or ctx is done.
func (t *Transaction) Wait(ctx context.Context) error {
	select {
	case <-t.doneCh:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pendingTable keeps at most one outstanding Transaction per key. Acked
// sends with a different payload queue behind the outstanding one.
type pendingTable struct {
	lock     sync.Mutex
	pending  map[transactionKey]*Transaction
	last     map[transactionKey]*Transaction
	closeErr error
}

// add registers a new transaction. It returns the last transaction of the
// same key with joined set when the new one would be a duplicate: any
// request, or an acked send of the same payload. Otherwise, when key is
// busy, the new transaction is returned unregistered along with prev,
// and must be activated once prev is done.
func (p *pendingTable) add(key transactionKey, payload []byte, timeout time.Duration) (t, prev *Transaction, joined bool, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closeErr != nil {
		return nil, nil, false, p.closeErr
	}
	if last := p.last[key]; last != nil && !last.isDone() {
		if key.kind == kindRequest || bytes.Equal(last.payload, payload) {
			return last, nil, true, nil
		}
		prev = last
	}
	if p.last == nil {
		p.last = make(map[transactionKey]*Transaction)
	}
	t = newTransaction()
	t.payload = payload
	p.last[key] = t
	if prev == nil {
		p.registerLocked(key, t, timeout)
	}
	return t, prev, false, nil
}

// activate registers a queued transaction.
func (p *pendingTable) activate(key transactionKey, t *Transaction, timeout time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closeErr != nil {
		return p.closeErr
	}
	p.registerLocked(key, t, timeout)
	return nil
}

func (p *pendingTable) registerLocked(key transactionKey, t *Transaction, timeout time.Duration) {
	if p.pending == nil {
		p.pending = make(map[transactionKey]*Transaction)
	}
	p.pending[key] = t
	t.timer = time.AfterFunc(timeout, func() {
		p.complete(key, t, ErrTimeout)
	})
}

func (p *pendingTable) removeLocked(key transactionKey, t *Transaction) {
	if p.pending[key] == t {
		delete(p.pending, key)
	}
	if p.last[key] == t {
		delete(p.last, key)
	}
}

// complete removes t if it's still registered under key and resolves it.
func (p *pendingTable) complete(key transactionKey, t *Transaction, err error) {
	p.lock.Lock()
	p.removeLocked(key, t)
	p.lock.Unlock()
	t.resolve(err)
}

// resolve completes the transaction under key, if any.
func (p *pendingTable) resolve(key transactionKey, err error) bool {
	p.lock.Lock()
	t := p.pending[key]
	if t != nil {
		p.removeLocked(key, t)
	}
	p.lock.Unlock()
	if t == nil {
		return false
	}
	t.resolve(err)
	return true
}

// rejectObject completes all transactions of an object.
func (p *pendingTable) rejectObject(objID uint32, err error) int {
	var rejected []*Transaction
	p.lock.Lock()
	for key, t := range p.pending {
		if key.objID == objID {
			rejected = append(rejected, t)
			p.removeLocked(key, t)
		}
	}
	p.lock.Unlock()
	for _, t := range rejected {
		t.resolve(err)
	}
	return len(rejected)
}

// open accepts new transactions.
func (p *pendingTable) open() {
	p.lock.Lock()
	p.closeErr = nil
	p.lock.Unlock()
}

// close fails all transactions and rejects new ones with err.
func (p *pendingTable) close(err error) {
	p.lock.Lock()
	pending := p.pending
	p.pending, p.last, p.closeErr = nil, nil, err
	p.lock.Unlock()
	for _, t := range pending {
		t.resolve(err)
	}
}

// size returns the number of outstanding transactions.
func (p *pendingTable) size() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.pending)
}
