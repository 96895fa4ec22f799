package transport

import (
	"io"
	"os"
	"sync"
	"time"
)

type pipeBuffer struct {
	lock     sync.Mutex
	data     []byte
	closed   bool
	notifyCh chan struct{}
}

func newPipeBuffer() *pipeBuffer {
	return &pipeBuffer{notifyCh: make(chan struct{}, 1)}
}

func (b *pipeBuffer) notify() {
	select {
	case b.notifyCh <- struct{}{}:
	default:
	}
}

func (b *pipeBuffer) close() {
	b.lock.Lock()
	b.closed = true
	b.lock.Unlock()
	b.notify()
}

// PipeEnd is one end of an in-memory byte stream.
// Writes never block, unlike net.Pipe, so two peers can both write from
// their receive loops.
type PipeEnd struct {
	rx, tx *pipeBuffer

	lock        sync.Mutex
	readTimeout time.Duration
}

// NewPipe creates a connected pair of PipeEnds.
func NewPipe() (*PipeEnd, *PipeEnd) {
	a, b := newPipeBuffer(), newPipeBuffer()
	return &PipeEnd{rx: a, tx: b}, &PipeEnd{rx: b, tx: a}
}

// SetReadTimeout implements Transport. Zero blocks Read until data arrives.
func (p *PipeEnd) SetReadTimeout(d time.Duration) error {
	p.lock.Lock()
	p.readTimeout = d
	p.lock.Unlock()
	return nil
}

// Read implements io.Reader.
func (p *PipeEnd) Read(buf []byte) (int, error) {
	p.lock.Lock()
	timeout := p.readTimeout
	p.lock.Unlock()
	var expireCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expireCh = timer.C
	}
	for {
		p.rx.lock.Lock()
		if len(p.rx.data) > 0 {
			n := copy(buf, p.rx.data)
			p.rx.data = p.rx.data[n:]
			remains := len(p.rx.data) > 0
			p.rx.lock.Unlock()
			if remains {
				p.rx.notify()
			}
			return n, nil
		}
		closed := p.rx.closed
		p.rx.lock.Unlock()
		if closed {
			return 0, io.EOF
		}
		select {
		case <-p.rx.notifyCh:
		case <-expireCh:
			return 0, os.ErrDeadlineExceeded
		}
	}
}

// Write implements io.Writer.
func (p *PipeEnd) Write(buf []byte) (int, error) {
	p.tx.lock.Lock()
	if p.tx.closed {
		p.tx.lock.Unlock()
		return 0, io.ErrClosedPipe
	}
	p.tx.data = append(p.tx.data, buf...)
	p.tx.lock.Unlock()
	p.tx.notify()
	return len(buf), nil
}

// Close closes both directions. The peer reads remaining data then io.EOF.
func (p *PipeEnd) Close() error {
	p.rx.close()
	p.tx.close()
	return nil
}
