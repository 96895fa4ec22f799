package uavtalk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uavtalk.go/pkg/transport"
)

type testReceiver struct {
	lock     sync.Mutex
	received []*Frame
	objects  map[uint32][]ObjectPayload
	onObject func(*Frame)
	err      error
}

func (r *testReceiver) ReceiveObject(objID uint32, instID uint16, payload []byte) error {
	f := &Frame{ObjectID: objID, InstanceID: instID, Payload: payload}
	if fn := r.onObject; fn != nil {
		fn(f)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.err != nil {
		return r.err
	}
	r.received = append(r.received, f)
	return nil
}

func (r *testReceiver) ObjectRequested(objID uint32, instID uint16) ([]ObjectPayload, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if answers, ok := r.objects[objID]; ok {
		return answers, nil
	}
	return nil, ErrUnknownObject
}

func (r *testReceiver) frames() []*Frame {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*Frame(nil), r.received...)
}

type engineTestCtx struct {
	t        *testing.T
	engine   *Engine
	receiver *testReceiver
	peer     *transport.PipeEnd
	parser   *Parser
	frameCh  chan *Frame
	lostCh   chan error
}

func newEngineTestCtx(t *testing.T) *engineTestCtx {
	local, peer := transport.NewPipe()
	dict := testDictionary()
	c := &engineTestCtx{
		t:        t,
		engine:   NewEngine(local, dict),
		receiver: &testReceiver{objects: make(map[uint32][]ObjectPayload)},
		peer:     peer,
		parser:   NewParser(dict),
		frameCh:  make(chan *Frame, 16),
		lostCh:   make(chan error, 1),
	}
	c.engine.Receiver = c.receiver
	c.engine.ReadTimeout = 10 * time.Millisecond
	c.engine.Timeout = 100 * time.Millisecond
	c.engine.LinkNotifier = LinkLostFunc(func(err error) {
		c.lostCh <- err
	})
	require.NoError(t, c.engine.Start())
	go c.readPeer()
	t.Cleanup(func() {
		c.engine.Stop()
		peer.Close()
	})
	return c
}

func (c *engineTestCtx) readPeer() {
	buf := make([]byte, 64)
	for {
		n, err := c.peer.Read(buf)
		for _, b := range buf[:n] {
			if pr := c.parser.Parse(b); pr.Frame != nil {
				c.frameCh <- pr.Frame
			}
		}
		if err != nil {
			close(c.frameCh)
			return
		}
	}
}

func (c *engineTestCtx) inject(p []byte) *engineTestCtx {
	_, err := c.peer.Write(p)
	require.NoError(c.t, err)
	return c
}

func (c *engineTestCtx) injectFrame(t MessageType, objID uint32, instID uint16, hasInstance bool, payload []byte) *engineTestCtx {
	b, err := Encode(t, objID, instID, hasInstance, payload)
	require.NoError(c.t, err)
	return c.inject(b)
}

func (c *engineTestCtx) expectFrame(t MessageType, objID uint32, instID uint16) *Frame {
	select {
	case f := <-c.frameCh:
		require.NotNil(c.t, f, "peer closed")
		require.Equal(c.t, t, f.Type)
		require.Equal(c.t, objID, f.ObjectID)
		require.Equal(c.t, instID, f.InstanceID)
		return f
	case <-time.After(time.Second):
		c.t.Fatalf("expect %v %08x timeout", t, objID)
	}
	return nil
}

func (c *engineTestCtx) expectNoFrame(d time.Duration) {
	select {
	case f := <-c.frameCh:
		c.t.Fatalf("unexpected frame %v", f)
	case <-time.After(d):
	}
}

func waitTx(t *testing.T, tx *Transaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := tx.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestEngineReceiveObject(t *testing.T) {
	c := newEngineTestCtx(t)
	c.inject([]byte{0x00, 0x55})
	c.inject(pairFrame)
	require.Eventually(t, func() bool { return len(c.receiver.frames()) == 1 }, time.Second, 5*time.Millisecond)
	f := c.receiver.frames()[0]
	require.Equal(t, pairID, f.ObjectID)
	require.Equal(t, []byte{7, 0, 0xfd, 0xff, 0xff, 0xff}, f.Payload)
	c.expectNoFrame(30 * time.Millisecond)

	stats := c.engine.Stats()
	require.Equal(t, uint64(1), stats.RxObjects)
	require.Equal(t, uint64(6), stats.RxObjectBytes)
	require.Equal(t, uint64(2+len(pairFrame)), stats.RxBytes)
}

func TestEngineObjectAck(t *testing.T) {
	c := newEngineTestCtx(t)
	c.injectFrame(TypeObjectAck, multiID, 3, true, []byte{1, 2})
	c.expectFrame(TypeAck, multiID, 3)
	require.Len(t, c.receiver.frames(), 1)

	// object not accepted is not acknowledged.
	c.receiver.lock.Lock()
	c.receiver.err = errors.New("rejected")
	c.receiver.lock.Unlock()
	c.injectFrame(TypeObjectAck, multiID, 4, true, []byte{1, 2})
	c.expectNoFrame(50 * time.Millisecond)
	require.Equal(t, uint64(1), c.engine.Stats().RxErrors)
}

func TestEngineCorruptFrame(t *testing.T) {
	c := newEngineTestCtx(t)
	corrupted := append([]byte(nil), pairFrame...)
	corrupted[9] ^= 0x40
	c.inject(corrupted)
	c.injectFrame(TypeObject, 0x4000, 0, false, []byte{1})
	c.inject(pairFrame)
	require.Eventually(t, func() bool { return len(c.receiver.frames()) == 1 }, time.Second, 5*time.Millisecond)
	stats := c.engine.Stats()
	require.Equal(t, uint64(2), stats.RxErrors)
	require.Equal(t, uint64(1), stats.RxUnknown)
	require.Equal(t, uint64(1), stats.RxObjects)
}

func TestEngineRequestTimeout(t *testing.T) {
	c := newEngineTestCtx(t)
	start := time.Now()
	tx, err := c.engine.RequestObject(pairID, 0)
	require.NoError(t, err)
	c.expectFrame(TypeObjectRequest, pairID, 0)
	require.Equal(t, 1, c.engine.PendingTransactions())
	require.ErrorIs(t, waitTx(t, tx), ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), c.engine.Timeout)
	require.Equal(t, 0, c.engine.PendingTransactions())

	// a late response is harmless.
	c.inject(pairFrame)
	require.Eventually(t, func() bool { return len(c.receiver.frames()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, c.engine.PendingTransactions())
}

func TestEngineRequestResolved(t *testing.T) {
	c := newEngineTestCtx(t)
	tx, err := c.engine.RequestObject(pairID, 0)
	require.NoError(t, err)
	releasedBeforeDispatch := make(chan bool, 1)
	c.receiver.onObject = func(*Frame) {
		select {
		case <-tx.Done():
			releasedBeforeDispatch <- true
		default:
			releasedBeforeDispatch <- false
		}
	}
	c.expectFrame(TypeObjectRequest, pairID, 0)
	c.inject(pairFrame)
	require.NoError(t, waitTx(t, tx))
	require.False(t, <-releasedBeforeDispatch)
	require.Len(t, c.receiver.frames(), 1)
	require.Equal(t, 0, c.engine.PendingTransactions())
}

func TestEngineRequestAllInstances(t *testing.T) {
	c := newEngineTestCtx(t)
	tx, err := c.engine.RequestObject(multiID, AllInstances)
	require.NoError(t, err)
	c.expectFrame(TypeObjectRequest, multiID, AllInstances)
	c.injectFrame(TypeObject, multiID, 2, true, []byte{5, 6})
	require.NoError(t, waitTx(t, tx))
}

func TestEngineRequestJoined(t *testing.T) {
	c := newEngineTestCtx(t)
	c.engine.Timeout = time.Second
	tx1, err := c.engine.RequestObject(multiID, 1)
	require.NoError(t, err)
	tx2, err := c.engine.RequestObject(multiID, 1)
	require.NoError(t, err)
	require.True(t, tx1 == tx2)
	c.expectFrame(TypeObjectRequest, multiID, 1)
	c.expectNoFrame(30 * time.Millisecond)
	require.Equal(t, 1, c.engine.PendingTransactions())

	// a different instance is a different transaction.
	tx3, err := c.engine.RequestObject(multiID, 2)
	require.NoError(t, err)
	require.False(t, tx1 == tx3)
	c.expectFrame(TypeObjectRequest, multiID, 2)

	c.injectFrame(TypeObject, multiID, 1, true, []byte{1, 1})
	require.NoError(t, waitTx(t, tx1))
	require.NoError(t, tx2.Err())
	require.Equal(t, 1, c.engine.PendingTransactions())
}

func TestEngineSendObjectQueued(t *testing.T) {
	c := newEngineTestCtx(t)
	c.engine.Timeout = time.Second
	first := []byte{1, 0, 0, 0, 0, 0}
	second := []byte{2, 0, 0, 0, 0, 0}

	tx1, err := c.engine.SendObject(pairID, 0, first, true)
	require.NoError(t, err)
	tx2, err := c.engine.SendObject(pairID, 0, first, true)
	require.NoError(t, err)
	require.True(t, tx1 == tx2)
	tx3, err := c.engine.SendObject(pairID, 0, second, true)
	require.NoError(t, err)
	require.False(t, tx1 == tx3)

	f := c.expectFrame(TypeObjectAck, pairID, 0)
	require.Equal(t, first, f.Payload)
	c.expectNoFrame(30 * time.Millisecond)

	// the ACK of the first payload doesn't complete the second.
	c.injectFrame(TypeAck, pairID, 0, false, nil)
	require.NoError(t, waitTx(t, tx1))
	f = c.expectFrame(TypeObjectAck, pairID, 0)
	require.Equal(t, second, f.Payload)
	select {
	case <-tx3.Done():
		t.Fatal("second send completed without ACK")
	default:
	}
	c.injectFrame(TypeAck, pairID, 0, false, nil)
	require.NoError(t, waitTx(t, tx3))
	require.Equal(t, 0, c.engine.PendingTransactions())

	// queued sends fail when the engine stops.
	tx1, err = c.engine.SendObject(pairID, 0, first, true)
	require.NoError(t, err)
	tx3, err = c.engine.SendObject(pairID, 0, second, true)
	require.NoError(t, err)
	c.expectFrame(TypeObjectAck, pairID, 0)
	require.NoError(t, c.engine.Stop())
	require.ErrorIs(t, waitTx(t, tx1), ErrStopped)
	require.ErrorIs(t, waitTx(t, tx3), ErrStopped)
}

func TestEngineSendObject(t *testing.T) {
	c := newEngineTestCtx(t)
	payload := []byte{7, 0, 0xfd, 0xff, 0xff, 0xff}

	tx, err := c.engine.SendObject(pairID, 0, payload, false)
	require.NoError(t, err)
	require.NoError(t, waitTx(t, tx))
	f := c.expectFrame(TypeObject, pairID, 0)
	require.Equal(t, payload, f.Payload)

	tx, err = c.engine.SendObject(pairID, 0, payload, true)
	require.NoError(t, err)
	f = c.expectFrame(TypeObjectAck, pairID, 0)
	require.Equal(t, payload, f.Payload)
	c.injectFrame(TypeAck, pairID, 0, false, nil)
	require.NoError(t, waitTx(t, tx))

	tx, err = c.engine.SendObject(multiID, 7, []byte{1, 2}, true)
	require.NoError(t, err)
	c.expectFrame(TypeObjectAck, multiID, 7)
	c.inject(pairNack)
	c.injectFrame(TypeNack, multiID, 0, false, nil)
	require.ErrorIs(t, waitTx(t, tx), ErrNack)

	// unmatched ACK is ignored.
	c.injectFrame(TypeAck, multiID, 9, true, nil)

	tx, err = c.engine.SendObject(pairID, 0, payload, true)
	require.NoError(t, err)
	c.expectFrame(TypeObjectAck, pairID, 0)
	require.ErrorIs(t, waitTx(t, tx), ErrTimeout)
	require.Equal(t, 0, c.engine.PendingTransactions())

	_, err = c.engine.SendObject(pairID, 0, payload[:2], true)
	require.Error(t, err)
	_, err = c.engine.SendObject(0x4000, 0, nil, true)
	require.ErrorIs(t, err, ErrUnknownObject)
	_, err = c.engine.SendObject(multiID, AllInstances, []byte{1, 2}, false)
	require.ErrorIs(t, err, ErrInvalidInstance)
}

func TestEngineAnswerRequest(t *testing.T) {
	c := newEngineTestCtx(t)
	c.receiver.lock.Lock()
	c.receiver.objects[pairID] = []ObjectPayload{{Payload: []byte{7, 0, 0xfd, 0xff, 0xff, 0xff}}}
	c.receiver.objects[multiID] = []ObjectPayload{
		{InstanceID: 0, Payload: []byte{1, 2}},
		{InstanceID: 1, Payload: []byte{3, 4}},
	}
	c.receiver.lock.Unlock()

	c.inject(pairReqFrame)
	f := c.expectFrame(TypeObject, pairID, 0)
	require.Equal(t, []byte{7, 0, 0xfd, 0xff, 0xff, 0xff}, f.Payload)

	c.injectFrame(TypeObjectRequest, multiID, AllInstances, true, nil)
	require.Equal(t, []byte{1, 2}, c.expectFrame(TypeObject, multiID, 0).Payload)
	require.Equal(t, []byte{3, 4}, c.expectFrame(TypeObject, multiID, 1).Payload)

	c.injectFrame(TypeObjectRequest, 0x4000, 0, false, nil)
	f = c.expectFrame(TypeNack, 0x4000, 0)
	require.False(t, f.HasInstance)
	require.Equal(t, uint64(1), c.engine.Stats().RxUnknown)

	c.injectFrame(TypeObjectRequest, uint32(0x1001), 0, false, nil)
	c.expectFrame(TypeNack, 0x1001, 0)
}

func TestEngineStop(t *testing.T) {
	c := newEngineTestCtx(t)
	tx, err := c.engine.RequestObject(pairID, 0)
	require.NoError(t, err)
	require.True(t, c.engine.IsRunning())
	require.Equal(t, ErrRunning, c.engine.Start())

	start := time.Now()
	require.NoError(t, c.engine.Stop())
	require.Less(t, time.Since(start), c.engine.Timeout)
	require.ErrorIs(t, tx.Err(), ErrStopped)
	require.False(t, c.engine.IsRunning())

	_, err = c.engine.RequestObject(pairID, 0)
	require.ErrorIs(t, err, ErrStopped)

	// restart accepts transactions again.
	require.NoError(t, c.engine.Start())
	tx, err = c.engine.RequestObject(pairID, 0)
	require.NoError(t, err)
	c.expectFrame(TypeObjectRequest, pairID, 0)
	c.expectFrame(TypeObjectRequest, pairID, 0)
	c.inject(pairFrame)
	require.NoError(t, waitTx(t, tx))
}

func TestEngineLinkLost(t *testing.T) {
	c := newEngineTestCtx(t)
	tx, err := c.engine.RequestObject(pairID, 0)
	require.NoError(t, err)
	c.expectFrame(TypeObjectRequest, pairID, 0)
	c.peer.Close()

	select {
	case err := <-c.lostCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("link lost not notified")
	}
	require.ErrorIs(t, waitTx(t, tx), ErrLinkLost)
	require.False(t, c.engine.IsRunning())
	_, err = c.engine.RequestObject(pairID, 0)
	require.ErrorIs(t, err, ErrLinkLost)
}

func TestEngineRun(t *testing.T) {
	local, peer := transport.NewPipe()
	defer peer.Close()
	engine := NewEngine(local, testDictionary())
	engine.ReadTimeout = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(ctx)
	}()
	require.Eventually(t, engine.IsRunning, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("engine not stopped")
	}
}
