package hub

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xelth-com/cdchub/internal/protocol"
)

const (
	heartbeatInterval = 30 * time.Second
	heartbeatTimeout  = 90 * time.Second
	outboundQueueSize = 1024
	enqueueTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checking is delegated to the reverse proxy in front of the
	// hub; the session endpoint itself only requires a valid bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type outboundFrame struct {
	bytes        []byte
	highPriority bool
}

// Session owns one branch's live transport: the reader and writer
// goroutines, the outbound queue, and the heartbeat deadline. At most one
// Session exists per (tenant_id, branch_id) at any instant; the Registry
// enforces that.
type Session struct {
	ID       string
	TenantID string
	BranchID string

	conn   *websocket.Conn
	router *Router
	reg    *Registry

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan outboundFrame

	mu            sync.Mutex
	lastFrameSeen time.Time

	// onRegistered fires once this session has been inserted into the
	// Registry, before the reader/writer pair starts. Anything that needs
	// to look this session up by (tenant, branch) — an offline drain, a
	// metrics increment — must happen no earlier than this point.
	onRegistered func()

	// onClosed fires once, from Handle, after the reader/writer pair has
	// exited — paired with onRegistered so a caller's per-connection gauge
	// gets exactly one increment and one decrement per session.
	onClosed func()
}

// NewSession upgrades the HTTP request to a websocket connection. The
// caller is expected to have already authenticated the request and then
// to call Handle, which registers the session, runs the reader/writer
// goroutines and removes the session from the registry when they exit.
func NewSession(w http.ResponseWriter, r *http.Request, sessionID, tenantID, branchID string, reg *Registry, router *Router, onRegistered, onClosed func()) (*Session, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(protocol.MaxFrameSize + 5)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:            sessionID,
		TenantID:      tenantID,
		BranchID:      branchID,
		conn:          conn,
		router:        router,
		reg:           reg,
		ctx:           ctx,
		cancel:        cancel,
		outbound:      make(chan outboundFrame, outboundQueueSize),
		lastFrameSeen: time.Now(),
		onRegistered:  onRegistered,
		onClosed:      onClosed,
	}
	return s, nil
}

// Handle registers the session and blocks running the reader/writer pair
// until either goroutine exits (transport error, timeout, or shutdown).
func (s *Session) Handle() {
	handle := &SessionHandle{
		SessionID: s.ID,
		TenantID:  s.TenantID,
		BranchID:  s.BranchID,
		Enqueue:   s.enqueue,
		Displace:  s.displace,
	}

	if err := s.reg.Insert(s.TenantID, s.BranchID, handle, s.router.maxBranches(s.TenantID), s.router.maxBranchConnections(s.TenantID)); err != nil {
		log.Printf("⚠️  session rejected tenant=%s branch=%s err=%v", s.TenantID, s.BranchID, err)
		_ = s.conn.Close()
		return
	}

	if s.onRegistered != nil {
		s.onRegistered()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump() }()
	go func() { defer wg.Done(); s.readPump() }()
	go s.watchdog()

	wg.Wait()
	if s.reg.Remove(s.TenantID, s.BranchID, s.ID) {
		// Only release the rate limiter bucket when this session actually
		// owned the registry entry; a session that lost a displacement
		// race must not clear the bucket out from under its replacement.
		s.router.limits.Forget(s.TenantID, s.BranchID)
	}
	if s.onClosed != nil {
		s.onClosed()
	}
	log.Printf("🔌 session closed tenant=%s branch=%s session=%s", s.TenantID, s.BranchID, s.ID)
}

func (s *Session) readPump() {
	defer s.cancel()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.touch()

		var env protocol.Envelope
		switch msgType {
		case websocket.BinaryMessage:
			env, err = protocol.Decode(data)
		default:
			env, err = protocol.DecodeJSON(data)
		}

		switch err {
		case nil:
			// Envelope spoofing is blocked here: from/tenant_id are
			// re-stamped from this session's authenticated identity
			// regardless of whatever the branch put on the wire.
			env.TenantID = s.TenantID
			env.From = s.BranchID
			s.router.Route(env)
		case protocol.ErrUnsupportedKind:
			// single message dropped, session survives
			continue
		default:
			// FrameTooLarge / DecodeError: fatal to the session
			log.Printf("⚠️  session decode error tenant=%s branch=%s err=%v", s.TenantID, s.BranchID, err)
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	defer s.cancel()
	defer s.conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.bytes); err != nil {
				return
			}
		case <-ticker.C:
			hb, _ := protocol.NewEnvelope(protocol.KindHeartbeat, protocol.HeartbeatPayload{SentAt: time.Now().UnixNano()})
			hb.TenantID, hb.From = s.TenantID, s.BranchID
			frame, err := protocol.Encode(hb)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

// watchdog closes the session if no frame has been seen from the peer
// within heartbeatTimeout, per the Session heartbeat contract.
func (s *Session) watchdog() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(s.lastSeen()) > heartbeatTimeout {
				log.Printf("⏱️  heartbeat timeout tenant=%s branch=%s", s.TenantID, s.BranchID)
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastFrameSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrameSeen
}

// enqueue implements the Session's backpressure policy: Control and
// SyncAck frames are never dropped. A low-priority frame that finds the
// outbound queue full is itself shed (frames already queued are kept); a
// high-priority frame makes room by evicting the oldest queued frame if
// that one is low-priority. A high-priority frame that cannot get into the
// queue within enqueueTimeout goes to the offline queue instead.
func (s *Session) enqueue(frame []byte, highPriority bool) bool {
	item := outboundFrame{bytes: frame, highPriority: highPriority}

	select {
	case s.outbound <- item:
		return true
	default:
	}

	if highPriority {
		// Make room by discarding one queued low-priority frame, then
		// force the high-priority one in.
		select {
		case old := <-s.outbound:
			if old.highPriority {
				// nothing low-priority to evict; queue is saturated
				// with must-deliver frames, block briefly instead.
				select {
				case s.outbound <- old:
				case <-time.After(enqueueTimeout):
					if err := s.router.enqueueOfflineFrame(s.TenantID, s.BranchID, old.bytes); err != nil {
						log.Printf("⚠️  frame lost tenant=%s branch=%s err=%v", s.TenantID, s.BranchID, err)
					}
				}
			}
		default:
		}
		select {
		case s.outbound <- item:
		case <-time.After(enqueueTimeout):
			if err := s.router.enqueueOfflineFrame(s.TenantID, s.BranchID, item.bytes); err != nil {
				log.Printf("⚠️  frame lost tenant=%s branch=%s err=%v", s.TenantID, s.BranchID, err)
			}
		}
		return true
	}

	s.router.metrics.FrameShed()
	return false
}

// displace notifies the peer it has been superseded, then redirects
// anything already sitting in this session's outbound queue to the
// session that displaced it — falling back to the offline queue for
// anything the new session's own queue won't take.
func (s *Session) displace(newHandle *SessionHandle) {
	pending := s.drainOutbound()

	ctrl, _ := protocol.NewEnvelope(protocol.KindControl, protocol.ControlPayload{Code: protocol.ControlDisplaced})
	ctrl.TenantID, ctrl.From = s.TenantID, s.BranchID
	if frame, err := protocol.Encode(ctrl); err == nil {
		s.enqueue(frame, true)
	}

	for _, item := range pending {
		if newHandle.Enqueue(item.bytes, item.highPriority) {
			continue
		}
		if err := s.router.enqueueOfflineFrame(s.TenantID, s.BranchID, item.bytes); err != nil {
			log.Printf("⚠️  displaced frame lost tenant=%s branch=%s err=%v", s.TenantID, s.BranchID, err)
		}
	}

	s.cancel()
}

// drainOutbound empties the outbound queue without blocking, returning
// whatever was buffered at the moment of the call.
func (s *Session) drainOutbound() []outboundFrame {
	var items []outboundFrame
	for {
		select {
		case item := <-s.outbound:
			items = append(items, item)
		default:
			return items
		}
	}
}
