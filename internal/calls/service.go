package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicebridge/internal/metrics"
	"voicebridge/internal/notify"
	"voicebridge/internal/realtime"
)

var (
	ErrInvalidArgument      = errors.New("calls: invalid argument")
	ErrUnauthorized         = errors.New("calls: party not authorized for attempt")
	ErrAlreadyTerminal      = errors.New("calls: attempt already terminal")
	ErrTransportUnavailable = errors.New("calls: media transport unavailable")
)

// RoomService provisions media rooms and mints join credentials.
type RoomService interface {
	NewRoomName(tenantID, partyA, partyB string) string
	EnsureRoom(ctx context.Context, tenantID, roomName string) error
	RemoveRoom(ctx context.Context, roomName string) error
	MintJoinCredential(tenantID, partyID, displayName, roomName string) (string, error)
}

// LiveEmitter pushes events to parties with an attached realtime session.
type LiveEmitter interface {
	EmitToParty(partyID, event string, data any)
	Connected(partyID string) bool
}

// Pusher reaches parties through out-of-band push channels.
type Pusher interface {
	Reachable(ctx context.Context, tenantID, partyID string) bool
	IncomingCall(ctx context.Context, tenantID, calleeID string, n notify.Notification) int
	MissedCall(ctx context.Context, tenantID, calleeID string, n notify.Notification) int
}

// PresenceControl flips parties between ONLINE and BUSY as calls connect
// and end.
type PresenceControl interface {
	SetBusy(ctx context.Context, tenantID, partyID, room string) error
	ClearBusy(ctx context.Context, tenantID, partyID string) error
}

// Coordinator drives the call attempt lifecycle. All state lives in the
// repository; concurrent operations on one attempt are resolved by
// state-conditional writes, so the coordinator itself holds no per-call
// locks.
type Coordinator struct {
	repo      Repository
	rooms     RoomService
	live      LiveEmitter
	push      Pusher
	presence  PresenceControl
	directory Directory
	metrics   *metrics.Metrics
	log       *slog.Logger

	ringTimeout  time.Duration
	historyLimit int
	clock        func() time.Time

	// accepts holds one latch per attempt, registered before the accept's
	// conditional write. A duplicate accept waits on the latch and returns
	// the identical result, including the same join credential.
	// Process-local: after a restart a duplicate re-mints an equivalent
	// credential, which is harmless because credentials are ephemeral.
	mu      sync.Mutex
	accepts map[string]*acceptEntry
}

type acceptEntry struct {
	done   chan struct{}
	result AcceptResult
	err    error
}

type CoordinatorConfig struct {
	RingTimeout  time.Duration
	HistoryLimit int
}

func NewCoordinator(
	cfg CoordinatorConfig,
	repo Repository,
	rooms RoomService,
	live LiveEmitter,
	push Pusher,
	pres PresenceControl,
	dir Directory,
	m *metrics.Metrics,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		repo:         repo,
		rooms:        rooms,
		live:         live,
		push:         push,
		presence:     pres,
		directory:    dir,
		metrics:      m,
		log:          log,
		ringTimeout:  cfg.RingTimeout,
		historyLimit: cfg.HistoryLimit,
		clock:        time.Now,
		accepts:      make(map[string]*acceptEntry),
	}
}

// StartResult is what the initiating party gets back. State is FAILED when
// the callee could not be reached; the attempt is still recorded.
type StartResult struct {
	Attempt        CallAttempt `json:"attempt"`
	JoinCredential string      `json:"join_credential,omitempty"`
}

// AcceptResult is what the answering party gets back.
type AcceptResult struct {
	Attempt        CallAttempt `json:"attempt"`
	JoinCredential string      `json:"join_credential"`
}

type incomingCallData struct {
	AttemptID  string `json:"attempt_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
	RoomName   string `json:"room_name"`
	Direction  string `json:"direction"`
}

type callAcceptedData struct {
	AttemptID string `json:"attempt_id"`
	CalleeID  string `json:"callee_id"`
	RoomName  string `json:"room_name"`
}

type callEndedData struct {
	AttemptID       string `json:"attempt_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

type callRejectedData struct {
	AttemptID string `json:"attempt_id"`
	Reason    string `json:"reason,omitempty"`
}

type missedCallData struct {
	AttemptID  string    `json:"attempt_id"`
	CalleeID   string    `json:"callee_id"`
	CalleeName string    `json:"callee_name"`
	At         time.Time `json:"at"`
}

// StartCall creates a call attempt from caller to callee and starts ringing.
//
// An unreachable callee (no live session and no push target) records a
// FAILED attempt and returns it with a nil error; the initiator reads the
// outcome from the state. A media transport failure also records FAILED but
// returns ErrTransportUnavailable, since the caller held up their side.
func (c *Coordinator) StartCall(ctx context.Context, tenantID, callerID, calleeID string) (StartResult, error) {
	if callerID == calleeID {
		return StartResult{}, fmt.Errorf("%w: cannot call self", ErrInvalidArgument)
	}

	caller, err := c.directory.ResolveParty(ctx, tenantID, callerID)
	if err != nil {
		return StartResult{}, err
	}
	callee, err := c.directory.ResolveParty(ctx, tenantID, calleeID)
	if err != nil {
		return StartResult{}, err
	}

	direction := DirectionInternal
	if caller.PortalCustomer {
		direction = DirectionPortalInbound
	}

	now := c.clock()
	attempt := CallAttempt{
		AttemptID:  uuid.NewString(),
		TenantID:   tenantID,
		CallerID:   caller.ID,
		CalleeID:   callee.ID,
		CallerName: caller.DisplayName,
		CalleeName: callee.DisplayName,
		RoomName:   c.rooms.NewRoomName(tenantID, caller.ID, callee.ID),
		State:      StateInitiated,
		Direction:  direction,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if !c.live.Connected(callee.ID) && !c.push.Reachable(ctx, tenantID, callee.ID) {
		attempt.State = StateFailed
		if err := c.repo.Create(ctx, attempt); err != nil {
			return StartResult{}, err
		}
		c.metrics.CallOutcomes.WithLabelValues(string(StateFailed)).Inc()
		c.log.Info("callee unreachable", "attempt_id", attempt.AttemptID, "callee_id", callee.ID)
		return StartResult{Attempt: attempt}, nil
	}

	if err := c.rooms.EnsureRoom(ctx, tenantID, attempt.RoomName); err != nil {
		attempt.State = StateFailed
		if cerr := c.repo.Create(ctx, attempt); cerr != nil {
			return StartResult{}, cerr
		}
		c.metrics.CallOutcomes.WithLabelValues(string(StateFailed)).Inc()
		c.log.Error("room provisioning failed", "error", err, "attempt_id", attempt.AttemptID)
		return StartResult{Attempt: attempt}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	cred, err := c.rooms.MintJoinCredential(tenantID, caller.ID, caller.DisplayName, attempt.RoomName)
	if err != nil {
		attempt.State = StateFailed
		if cerr := c.repo.Create(ctx, attempt); cerr != nil {
			return StartResult{}, cerr
		}
		c.metrics.CallOutcomes.WithLabelValues(string(StateFailed)).Inc()
		c.log.Error("mint join credential failed", "error", err, "attempt_id", attempt.AttemptID)
		return StartResult{Attempt: attempt}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	if err := c.repo.Create(ctx, attempt); err != nil {
		return StartResult{}, err
	}
	c.metrics.CallsStarted.Inc()

	// the missed-call deadline is armed before any notification work so a
	// slow push provider cannot stretch the ring window
	c.scheduleRingTimeout(attempt.AttemptID)

	c.live.EmitToParty(callee.ID, realtime.EventIncomingCall, incomingCallData{
		AttemptID:  attempt.AttemptID,
		CallerID:   caller.ID,
		CallerName: caller.DisplayName,
		RoomName:   attempt.RoomName,
		Direction:  string(direction),
	})
	// push fan-out runs off the request path; providers can take seconds
	// and the initiator should not wait on them
	go func(n notify.Notification) {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.push.IncomingCall(pushCtx, tenantID, callee.ID, n)
	}(notify.Notification{
		AttemptID:  attempt.AttemptID,
		CallerID:   caller.ID,
		CallerName: caller.DisplayName,
		RoomName:   attempt.RoomName,
	})

	c.log.Info("call started",
		"attempt_id", attempt.AttemptID, "tenant_id", tenantID,
		"caller_id", caller.ID, "callee_id", callee.ID, "direction", direction)
	return StartResult{Attempt: attempt, JoinCredential: cred}, nil
}

// scheduleRingTimeout arms the missed-call deadline. The timer never cancels
// on answer; it re-reads the attempt when it fires, and the conditional
// write makes it a no-op if anything else moved the attempt first.
func (c *Coordinator) scheduleRingTimeout(attemptID string) {
	time.AfterFunc(c.ringTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.expireRinging(ctx, attemptID)
	})
}

func (c *Coordinator) expireRinging(ctx context.Context, attemptID string) {
	attempt, err := c.repo.Get(ctx, attemptID)
	if err != nil {
		c.log.Error("ring timeout: load attempt", "error", err, "attempt_id", attemptID)
		return
	}
	if attempt.State != StateInitiated {
		return
	}

	ok, err := c.repo.Transition(ctx, attemptID, StateInitiated, StateMissed, c.clock())
	if err != nil {
		c.log.Error("ring timeout: transition", "error", err, "attempt_id", attemptID)
		return
	}
	if !ok {
		// lost the race to an accept or reject
		return
	}

	c.metrics.CallOutcomes.WithLabelValues(string(StateMissed)).Inc()
	// the live event goes to the caller; the callee was not listening, which
	// is the whole reason the call is missed. The callee gets a push instead.
	c.live.EmitToParty(attempt.CallerID, realtime.EventMissedCall, missedCallData{
		AttemptID:  attemptID,
		CalleeID:   attempt.CalleeID,
		CalleeName: attempt.CalleeName,
		At:         c.clock(),
	})
	c.push.MissedCall(ctx, attempt.TenantID, attempt.CalleeID, notify.Notification{
		CallerName: attempt.CallerName,
		CallTime:   attempt.StartedAt.Format("15:04"),
	})
	if err := c.rooms.RemoveRoom(ctx, attempt.RoomName); err != nil {
		c.log.Warn("ring timeout: remove room", "error", err, "room", attempt.RoomName)
	}
	c.log.Info("call missed", "attempt_id", attemptID, "callee_id", attempt.CalleeID)
}

// AcceptCall answers a ringing attempt. Only the callee may accept. A
// duplicate accept waits for the first one to finish and returns the same
// result, join credential included, instead of failing or minting again.
func (c *Coordinator) AcceptCall(ctx context.Context, tenantID, partyID, attemptID string) (AcceptResult, error) {
	attempt, err := c.repo.Get(ctx, attemptID)
	if err != nil {
		return AcceptResult{}, err
	}
	if attempt.TenantID != tenantID || attempt.CalleeID != partyID {
		return AcceptResult{}, ErrUnauthorized
	}

	// register the latch before touching the attempt state, so a concurrent
	// duplicate either becomes the sole accepter or waits on this one
	c.mu.Lock()
	if e, ok := c.accepts[attemptID]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return AcceptResult{}, ctx.Err()
		}
		return e.result, e.err
	}
	e := &acceptEntry{done: make(chan struct{})}
	c.accepts[attemptID] = e
	c.mu.Unlock()

	res, err := c.connect(ctx, tenantID, attempt)
	e.result, e.err = res, err
	close(e.done)
	if err != nil {
		// a failed accept must not pin the error for a later retry
		c.mu.Lock()
		delete(c.accepts, attemptID)
		c.mu.Unlock()
	}
	return res, err
}

func (c *Coordinator) connect(ctx context.Context, tenantID string, attempt CallAttempt) (AcceptResult, error) {
	attemptID := attempt.AttemptID
	ok, err := c.repo.Transition(ctx, attemptID, StateInitiated, StateConnected, c.clock())
	if err != nil {
		return AcceptResult{}, err
	}
	if !ok {
		current, err := c.repo.Get(ctx, attemptID)
		if err != nil {
			return AcceptResult{}, err
		}
		if current.State == StateConnected {
			// connected before this process started; re-mint an
			// equivalent credential
			cred, err := c.rooms.MintJoinCredential(current.TenantID, current.CalleeID, current.CalleeName, current.RoomName)
			if err != nil {
				return AcceptResult{}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
			}
			return AcceptResult{Attempt: current, JoinCredential: cred}, nil
		}
		return AcceptResult{}, fmt.Errorf("%w: state %s", ErrAlreadyTerminal, current.State)
	}

	attempt.State = StateConnected
	cred, err := c.rooms.MintJoinCredential(tenantID, attempt.CalleeID, attempt.CalleeName, attempt.RoomName)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	c.metrics.CallOutcomes.WithLabelValues(string(StateConnected)).Inc()
	c.metrics.RingDuration.Observe(c.clock().Sub(attempt.StartedAt).Seconds())

	if err := c.presence.SetBusy(ctx, tenantID, attempt.CallerID, attempt.RoomName); err != nil {
		c.log.Warn("set caller busy", "error", err, "attempt_id", attemptID)
	}
	if err := c.presence.SetBusy(ctx, tenantID, attempt.CalleeID, attempt.RoomName); err != nil {
		c.log.Warn("set callee busy", "error", err, "attempt_id", attemptID)
	}

	c.live.EmitToParty(attempt.CallerID, realtime.EventCallAccepted, callAcceptedData{
		AttemptID: attemptID,
		CalleeID:  attempt.CalleeID,
		RoomName:  attempt.RoomName,
	})

	c.log.Info("call accepted", "attempt_id", attemptID, "callee_id", attempt.CalleeID)
	return AcceptResult{Attempt: attempt, JoinCredential: cred}, nil
}

// RejectCall declines a ringing attempt. Only the callee may reject.
// reason is free-form and optional; it travels in the caller's live event
// but is never persisted.
func (c *Coordinator) RejectCall(ctx context.Context, tenantID, partyID, attemptID, reason string) (CallAttempt, error) {
	attempt, err := c.repo.Get(ctx, attemptID)
	if err != nil {
		return CallAttempt{}, err
	}
	if attempt.TenantID != tenantID || attempt.CalleeID != partyID {
		return CallAttempt{}, ErrUnauthorized
	}

	ok, err := c.repo.Transition(ctx, attemptID, StateInitiated, StateRejected, c.clock())
	if err != nil {
		return CallAttempt{}, err
	}
	if !ok {
		current, err := c.repo.Get(ctx, attemptID)
		if err != nil {
			return CallAttempt{}, err
		}
		return CallAttempt{}, fmt.Errorf("%w: state %s", ErrAlreadyTerminal, current.State)
	}
	attempt.State = StateRejected

	c.metrics.CallOutcomes.WithLabelValues(string(StateRejected)).Inc()
	c.live.EmitToParty(attempt.CallerID, realtime.EventCallRejected, callRejectedData{
		AttemptID: attemptID,
		Reason:    reason,
	})
	if err := c.rooms.RemoveRoom(ctx, attempt.RoomName); err != nil {
		c.log.Warn("reject: remove room", "error", err, "room", attempt.RoomName)
	}

	c.log.Info("call rejected", "attempt_id", attemptID, "callee_id", attempt.CalleeID)
	return attempt, nil
}

// EndCall hangs up a connected attempt. Either side may end; whichever
// conditional write lands first records the duration, and the other side
// gets the already-recorded attempt back without error.
func (c *Coordinator) EndCall(ctx context.Context, tenantID, partyID, attemptID string) (CallAttempt, error) {
	attempt, err := c.repo.Get(ctx, attemptID)
	if err != nil {
		return CallAttempt{}, err
	}
	if attempt.TenantID != tenantID || (attempt.CallerID != partyID && attempt.CalleeID != partyID) {
		return CallAttempt{}, ErrUnauthorized
	}

	endedAt := c.clock()
	duration := int(endedAt.Sub(attempt.StartedAt) / time.Second)
	ok, err := c.repo.MarkEnded(ctx, attemptID, endedAt, duration)
	if err != nil {
		return CallAttempt{}, err
	}
	if !ok {
		current, err := c.repo.Get(ctx, attemptID)
		if err != nil {
			return CallAttempt{}, err
		}
		if current.State == StateEnded {
			return current, nil
		}
		if current.State.Terminal() {
			return CallAttempt{}, fmt.Errorf("%w: state %s", ErrAlreadyTerminal, current.State)
		}
		// still ringing; hanging up is not how a ringing attempt closes
		return CallAttempt{}, fmt.Errorf("%w: attempt not connected (state %s)", ErrInvalidArgument, current.State)
	}

	attempt.State = StateEnded
	attempt.EndedAt = &endedAt
	attempt.DurationSeconds = &duration

	c.metrics.CallOutcomes.WithLabelValues(string(StateEnded)).Inc()

	if err := c.presence.ClearBusy(ctx, tenantID, attempt.CallerID); err != nil {
		c.log.Warn("clear caller busy", "error", err, "attempt_id", attemptID)
	}
	if err := c.presence.ClearBusy(ctx, tenantID, attempt.CalleeID); err != nil {
		c.log.Warn("clear callee busy", "error", err, "attempt_id", attemptID)
	}

	// notify each party individually; never a tenant broadcast, call
	// metadata stays between the two parties
	ended := callEndedData{AttemptID: attemptID, DurationSeconds: duration}
	c.live.EmitToParty(attempt.CallerID, realtime.EventCallEnded, ended)
	c.live.EmitToParty(attempt.CalleeID, realtime.EventCallEnded, ended)
	if err := c.rooms.RemoveRoom(ctx, attempt.RoomName); err != nil {
		c.log.Warn("end: remove room", "error", err, "room", attempt.RoomName)
	}

	c.log.Info("call ended", "attempt_id", attemptID, "duration_s", duration)
	return attempt, nil
}

// TokenResult pairs a freshly minted credential with the room it opens;
// a reconnecting client needs both to rejoin.
type TokenResult struct {
	JoinCredential string `json:"join_credential"`
	RoomName       string `json:"room_name"`
}

// Token re-mints a join credential for an attempt the party belongs to.
// The caller may fetch one while still ringing; after that the attempt must
// be CONNECTED.
func (c *Coordinator) Token(ctx context.Context, tenantID, partyID, attemptID string) (TokenResult, error) {
	attempt, err := c.repo.Get(ctx, attemptID)
	if err != nil {
		return TokenResult{}, err
	}
	if attempt.TenantID != tenantID || (attempt.CallerID != partyID && attempt.CalleeID != partyID) {
		return TokenResult{}, ErrUnauthorized
	}
	switch attempt.State {
	case StateConnected:
	case StateInitiated:
		if partyID != attempt.CallerID {
			return TokenResult{}, ErrUnauthorized
		}
	default:
		return TokenResult{}, fmt.Errorf("%w: state %s", ErrAlreadyTerminal, attempt.State)
	}

	name := attempt.CallerName
	if partyID == attempt.CalleeID {
		name = attempt.CalleeName
	}
	cred, err := c.rooms.MintJoinCredential(tenantID, partyID, name, attempt.RoomName)
	if err != nil {
		return TokenResult{}, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return TokenResult{JoinCredential: cred, RoomName: attempt.RoomName}, nil
}

// History lists the party's most recent attempts, newest first.
func (c *Coordinator) History(ctx context.Context, tenantID, partyID string, limit int) ([]CallAttempt, error) {
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}
	return c.repo.ListByParty(ctx, tenantID, partyID, limit)
}

// TenantHistory lists a tenant's most recent attempts across all parties.
func (c *Coordinator) TenantHistory(ctx context.Context, tenantID string, limit int) ([]CallAttempt, error) {
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}
	return c.repo.ListByTenant(ctx, tenantID, limit)
}
