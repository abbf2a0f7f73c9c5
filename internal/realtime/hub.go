package realtime

import (
	"log/slog"
	"sync"
)

// Conn is the minimal connection surface the hub needs. *websocket.Conn
// satisfies it directly; tests use fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one attached live-channel connection. A party may hold several
// sessions at once (phone + browser); events address the party, not the
// socket.
type Session struct {
	partyID  string
	tenantID string

	conn Conn
	send chan Envelope
	once sync.Once
	done chan struct{}
}

func (s *Session) PartyID() string  { return s.partyID }
func (s *Session) TenantID() string { return s.tenantID }

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub is the process-local registry of live connections, keyed by party
// identity and grouped per tenant. All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	byParty  map[string]map[*Session]struct{}
	byTenant map[string]map[*Session]struct{}

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		byParty:  make(map[string]map[*Session]struct{}),
		byTenant: make(map[string]map[*Session]struct{}),
		log:      log,
	}
}

const sendBuffer = 16

// Attach registers a connection under the party and its filing tenant and
// starts the session writer. The caller owns the read side.
func (h *Hub) Attach(partyID, tenantID string, conn Conn) *Session {
	s := &Session{
		partyID:  partyID,
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan Envelope, sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.byParty[partyID] == nil {
		h.byParty[partyID] = make(map[*Session]struct{})
	}
	h.byParty[partyID][s] = struct{}{}
	if h.byTenant[tenantID] == nil {
		h.byTenant[tenantID] = make(map[*Session]struct{})
	}
	h.byTenant[tenantID][s] = struct{}{}
	h.mu.Unlock()

	go h.writer(s)

	h.log.Debug("session attached", "party_id", partyID, "tenant_id", tenantID)
	return s
}

// Detach removes the session and closes its connection. Idempotent.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	if set := h.byParty[s.partyID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byParty, s.partyID)
		}
	}
	if set := h.byTenant[s.tenantID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byTenant, s.tenantID)
		}
	}
	h.mu.Unlock()

	s.close()
	h.log.Debug("session detached", "party_id", s.partyID)
}

func (h *Hub) writer(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.send:
			if err := s.conn.WriteJSON(env); err != nil {
				h.log.Warn("live channel write failed", "party_id", s.partyID, "err", err)
				h.Detach(s)
				return
			}
		}
	}
}

// EmitToParty delivers an event to every session of one party. Slow sessions
// drop rather than block the emitter.
func (h *Hub) EmitToParty(partyID, event string, data any) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.byParty[partyID]))
	for s := range h.byParty[partyID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	env := Envelope{Event: event, Data: data}
	for _, s := range sessions {
		select {
		case s.send <- env:
		default:
			h.log.Warn("session send buffer full, dropping event", "party_id", partyID, "event", event)
		}
	}
}

// EmitToTenant broadcasts an event to every session filed under the tenant.
func (h *Hub) EmitToTenant(tenantID, event string, data any) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.byTenant[tenantID]))
	for s := range h.byTenant[tenantID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	env := Envelope{Event: event, Data: data}
	for _, s := range sessions {
		select {
		case s.send <- env:
		default:
			h.log.Warn("session send buffer full, dropping event", "tenant_id", tenantID, "event", event)
		}
	}
}

// Connected reports whether the party has at least one attached session.
func (h *Hub) Connected(partyID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byParty[partyID]) > 0
}

// Close detaches every session; used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Session, 0)
	for _, set := range h.byParty {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		h.Detach(s)
	}
}
