package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errSubscriberQueueFull = errors.New("subscriber send queue full")
	errSubscriberClosed    = errors.New("subscriber closed")
)

// subscriberConn is the write surface a subscriber needs from its transport.
type subscriberConn interface {
	Write([]byte) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// wsSubscriberConn adapts a gorilla connection to subscriberConn.
type wsSubscriberConn struct {
	conn *websocket.Conn
}

func (c wsSubscriberConn) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c wsSubscriberConn) SetWriteDeadline(deadline time.Time) error {
	return c.conn.SetWriteDeadline(deadline)
}

func (c wsSubscriberConn) Close() error {
	return c.conn.Close()
}

// queueTelemetry observes the subscriber's outbound queue.
type queueTelemetry interface {
	RecordSubscriberQueueDepth(depth int)
	RecordSubscriberQueueDrop(depth int)
}

type outboundFrame struct {
	enqueued time.Time
	data     []byte
}

// subscriber owns one client's outbound path. Broadcast frames go through a
// bounded queue drained by a dedicated writer goroutine so a slow client
// cannot stall the tick; session responses use Write directly.
type subscriber struct {
	conn      subscriberConn
	telemetry queueTelemetry
	mode      string

	writeMu sync.Mutex
	queue   chan outboundFrame
	done    chan struct{}
	once    sync.Once

	failed          atomic.Bool
	lastAck         atomic.Uint64
	lastCommandSeq  atomic.Uint64
	lastKeyframeReq atomic.Int64
}

func newSubscriber(conn subscriberConn, telemetry queueTelemetry) *subscriber {
	sub := &subscriber{
		conn:      conn,
		telemetry: telemetry,
		queue:     make(chan outboundFrame, subscriberSendQueueSize),
		done:      make(chan struct{}),
	}
	go sub.writeLoop()
	return sub
}

func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.queue:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(frame.enqueued.Add(writeWait))
			err := s.conn.Write(frame.data)
			s.writeMu.Unlock()
			if s.telemetry != nil {
				s.telemetry.RecordSubscriberQueueDepth(len(s.queue))
			}
			if err != nil {
				s.failed.Store(true)
				return
			}
		}
	}
}

// Write sends data on the session path, serialized against the broadcast
// writer.
func (s *subscriber) Write(data []byte) error {
	if s.failed.Load() {
		return errSubscriberClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.Write(data); err != nil {
		s.failed.Store(true)
		return err
	}
	return nil
}

// EnqueueBroadcast stages a broadcast frame without blocking. A full queue
// drops the frame and reports the drop.
func (s *subscriber) EnqueueBroadcast(now time.Time, data []byte) error {
	if s.failed.Load() {
		return errSubscriberClosed
	}
	select {
	case s.queue <- outboundFrame{enqueued: now, data: data}:
		if s.telemetry != nil {
			s.telemetry.RecordSubscriberQueueDepth(len(s.queue))
		}
		return nil
	default:
		if s.telemetry != nil {
			s.telemetry.RecordSubscriberQueueDrop(len(s.queue))
		}
		return errSubscriberQueueFull
	}
}

// Failed reports whether the underlying connection errored.
func (s *subscriber) Failed() bool {
	return s.failed.Load()
}

// Mode returns the visibility wire encoding this subscriber asked for.
func (s *subscriber) Mode() string {
	return s.mode
}

// RecordAck stores the highest broadcast sequence the client confirmed.
func (s *subscriber) RecordAck(seq uint64) {
	for {
		current := s.lastAck.Load()
		if seq <= current {
			return
		}
		if s.lastAck.CompareAndSwap(current, seq) {
			return
		}
	}
}

// LastAck reports the highest acknowledged broadcast sequence.
func (s *subscriber) LastAck() uint64 {
	return s.lastAck.Load()
}

// LastCommandSeq reports the newest client command sequence seen.
func (s *subscriber) LastCommandSeq() uint64 {
	return s.lastCommandSeq.Load()
}

// StoreLastCommandSeq remembers the newest client command sequence.
func (s *subscriber) StoreLastCommandSeq(seq uint64) {
	s.lastCommandSeq.Store(seq)
}

// AllowKeyframeRequest applies the per-subscriber request throttle, storing
// now as the latest attempt when allowed.
func (s *subscriber) AllowKeyframeRequest(now time.Time) bool {
	for {
		last := s.lastKeyframeReq.Load()
		if last > 0 && now.UnixNano()-last < int64(minKeyframeRequestInterval) {
			return false
		}
		if s.lastKeyframeReq.CompareAndSwap(last, now.UnixNano()) {
			return true
		}
	}
}

// Close tears down the writer goroutine and the connection. Queued frames
// are discarded and later enqueues fail fast.
func (s *subscriber) Close() {
	s.once.Do(func() {
		s.failed.Store(true)
		close(s.done)
		s.conn.Close()
	})
}
