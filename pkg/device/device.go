// Package device is the message channel to the display device: a single
// websocket peer exchanging CBOR frames keyed like the device's
// dictionary.
//
// Every record frame carries a sequence number the device echoes in its
// ack, so a late ack for an abandoned send never completes a newer one.
package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sw33tLie/togetter/pkg/delivery"
)

const (
	DefaultAckTimeout = 5 * time.Second
	writeTimeout      = 5 * time.Second
)

var (
	ErrRejected   = errors.New("device rejected message")
	ErrAckTimeout = errors.New("timed out waiting for device ack")
)

// Handler receives device events.
type Handler interface {
	Connected()
	Selected(index int)
}

// Logger abstracts logging so callers can use logrus or any other logger
// that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

type ack struct {
	seq uint32
	ok  bool
}

type peer struct {
	ws      *websocket.Conn
	acks    chan ack
	done    chan struct{}
	writeMu sync.Mutex
}

// Hub serves the device websocket and implements delivery.Sender.
type Hub struct {
	ackTimeout time.Duration
	log        Logger
	upgrader   websocket.Upgrader
	seq        atomic.Uint32

	mu      sync.Mutex
	handler Handler
	current *peer
}

// NewHub creates a hub. ackTimeout <= 0 selects DefaultAckTimeout; log may
// be nil.
func NewHub(ackTimeout time.Duration, log Logger) *Hub {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Hub{
		ackTimeout: ackTimeout,
		log:        log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetHandler registers the receiver of device events. Call it before
// serving.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Connected reports whether a device is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// ServeHTTP upgrades the request and reads device frames until the
// connection drops. A new device replaces the current one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("Device upgrade failed: %v", err)
		return
	}
	p := &peer{ws: ws, acks: make(chan ack, 4), done: make(chan struct{})}

	h.mu.Lock()
	old := h.current
	h.current = p
	handler := h.handler
	h.mu.Unlock()
	if old != nil {
		h.log.Infof("Replacing connected device")
		old.ws.Close()
	}

	h.log.Infof("Device connected from %s", r.RemoteAddr)
	if handler != nil {
		handler.Connected()
	}

	defer func() {
		close(p.done)
		ws.Close()
		h.mu.Lock()
		if h.current == p {
			h.current = nil
		}
		h.mu.Unlock()
		h.log.Infof("Device disconnected")
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debugf("Device read: %v", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		in, err := decodeInbound(data)
		if err != nil {
			h.log.Warnf("Dropping undecodable device frame: %v", err)
			continue
		}
		if in.Ack != nil {
			select {
			case p.acks <- ack{seq: in.Seq, ok: *in.Ack}:
			default:
				h.log.Debugf("Dropping ack %d: nobody is waiting", in.Seq)
			}
		}
		if in.Select != nil {
			h.log.Debugf("Got message: select %d", *in.Select)
			if handler != nil {
				handler.Selected(*in.Select)
			}
		}
	}
}

// Send writes msg to the device and waits for its ack.
func (h *Hub) Send(ctx context.Context, msg delivery.Message) error {
	h.mu.Lock()
	p := h.current
	h.mu.Unlock()
	if p == nil {
		return delivery.ErrNotConnected
	}

	seq := h.seq.Add(1)
	if seq == 0 {
		seq = h.seq.Add(1)
	}
	frame, err := EncodeMessage(msg, seq)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = p.ws.WriteMessage(websocket.BinaryMessage, frame)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("writing record frame: %w", err)
	}

	timer := time.NewTimer(h.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case a := <-p.acks:
			if a.seq != seq {
				h.log.Debugf("Ignoring ack %d while waiting for %d", a.seq, seq)
				continue
			}
			if !a.ok {
				return ErrRejected
			}
			return nil
		case <-timer.C:
			return ErrAckTimeout
		case <-p.done:
			return delivery.ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
