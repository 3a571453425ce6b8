package server

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn records written frames on a channel so tests can wait for the
// writer goroutine deterministically.
type fakeConn struct {
	mu        sync.Mutex
	frames    chan []byte
	deadlines []time.Time
	writeErr  error
	closed    int
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 32)}
}

func (c *fakeConn) Write(data []byte) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.frames <- data
	return nil
}

func (c *fakeConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, deadline)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) lastDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deadlines) == 0 {
		return time.Time{}, false
	}
	return c.deadlines[len(c.deadlines)-1], true
}

func waitFrame(t *testing.T, c *fakeConn) []byte {
	t.Helper()
	select {
	case frame := <-c.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

// blockingConn parks Write until released so tests can hold the writer
// goroutine mid-flight.
type blockingConn struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingConn() *blockingConn {
	return &blockingConn{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (c *blockingConn) Write(data []byte) error {
	select {
	case c.started <- struct{}{}:
	default:
	}
	<-c.release
	return nil
}

func (c *blockingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *blockingConn) Close() error {
	c.once.Do(func() { close(c.release) })
	return nil
}

func TestSubscriberWriterDrainsQueue(t *testing.T) {
	conn := newFakeConn()
	sub := newSubscriber(conn, nil)
	defer sub.Close()

	enqueued := time.Unix(1000, 0)
	if err := sub.EnqueueBroadcast(enqueued, []byte("frame-1")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if got := string(waitFrame(t, conn)); got != "frame-1" {
		t.Fatalf("expected frame-1, got %q", got)
	}
	deadline, ok := conn.lastDeadline()
	if !ok {
		t.Fatalf("expected a write deadline to be set")
	}
	if want := enqueued.Add(writeWait); !deadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, deadline)
	}
}

func TestSubscriberQueueFullDropsFrame(t *testing.T) {
	conn := newBlockingConn()
	counters := newTelemetryCounters(nil)
	sub := newSubscriber(conn, counters)
	defer sub.Close()

	now := time.Unix(2000, 0)
	if err := sub.EnqueueBroadcast(now, []byte("in-flight")); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	<-conn.started

	for i := 0; i < subscriberSendQueueSize; i++ {
		if err := sub.EnqueueBroadcast(now, []byte("queued")); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	if err := sub.EnqueueBroadcast(now, []byte("overflow")); !errors.Is(err, errSubscriberQueueFull) {
		t.Fatalf("expected queue full error, got %v", err)
	}
	if got := counters.Snapshot().SubscriberQueueDrops; got != 1 {
		t.Fatalf("expected 1 recorded drop, got %d", got)
	}
}

func TestSubscriberWriteFailureMarksFailed(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	sub := newSubscriber(conn, nil)
	defer sub.Close()

	if err := sub.Write([]byte("payload")); err == nil {
		t.Fatalf("expected write error")
	}
	if !sub.Failed() {
		t.Fatalf("expected subscriber to be marked failed")
	}
	if err := sub.EnqueueBroadcast(time.Now(), []byte("late")); !errors.Is(err, errSubscriberClosed) {
		t.Fatalf("expected closed error after failure, got %v", err)
	}
}

func TestSubscriberRecordAckKeepsMaximum(t *testing.T) {
	sub := newSubscriber(newFakeConn(), nil)
	defer sub.Close()

	sub.RecordAck(5)
	sub.RecordAck(3)
	if got := sub.LastAck(); got != 5 {
		t.Fatalf("expected ack 5 to survive stale ack, got %d", got)
	}
	sub.RecordAck(9)
	if got := sub.LastAck(); got != 9 {
		t.Fatalf("expected ack to advance to 9, got %d", got)
	}
}

func TestSubscriberKeyframeRequestThrottle(t *testing.T) {
	sub := newSubscriber(newFakeConn(), nil)
	defer sub.Close()

	base := time.Unix(3000, 0)
	if !sub.AllowKeyframeRequest(base) {
		t.Fatalf("expected first request to pass")
	}
	if sub.AllowKeyframeRequest(base.Add(100 * time.Millisecond)) {
		t.Fatalf("expected request inside the interval to be throttled")
	}
	if !sub.AllowKeyframeRequest(base.Add(minKeyframeRequestInterval + time.Millisecond)) {
		t.Fatalf("expected request after the interval to pass")
	}
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	sub := newSubscriber(conn, nil)

	sub.Close()
	sub.Close()

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if closed != 1 {
		t.Fatalf("expected one close, got %d", closed)
	}
	if err := sub.EnqueueBroadcast(time.Now(), []byte("late")); !errors.Is(err, errSubscriberClosed) {
		t.Fatalf("expected closed error after close, got %v", err)
	}
}
