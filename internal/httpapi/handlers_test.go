package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"voicebridge/internal/auth"
	"voicebridge/internal/calls"
	"voicebridge/internal/metrics"
	"voicebridge/internal/notify"
	"voicebridge/internal/presence"
	"voicebridge/internal/realtime"
)

type stubRooms struct{ serial int }

func (s *stubRooms) NewRoomName(tenantID, a, b string) string {
	s.serial++
	return fmt.Sprintf("%s-call-%s-%s-%d", tenantID, a, b, s.serial)
}
func (s *stubRooms) EnsureRoom(ctx context.Context, tenantID, roomName string) error { return nil }
func (s *stubRooms) RemoveRoom(ctx context.Context, roomName string) error           { return nil }
func (s *stubRooms) MintJoinCredential(tenantID, partyID, displayName, roomName string) (string, error) {
	return "cred-" + partyID, nil
}

type stubLive struct{}

func (stubLive) EmitToParty(partyID, event string, data any) {}
func (stubLive) Connected(partyID string) bool               { return true }

type stubPush struct{}

func (stubPush) Reachable(ctx context.Context, tenantID, partyID string) bool { return false }
func (stubPush) IncomingCall(ctx context.Context, tenantID, calleeID string, n notify.Notification) int {
	return 0
}
func (stubPush) MissedCall(ctx context.Context, tenantID, calleeID string, n notify.Notification) int {
	return 0
}

type stubPresence struct{}

func (stubPresence) SetBusy(ctx context.Context, tenantID, partyID, room string) error { return nil }
func (stubPresence) ClearBusy(ctx context.Context, tenantID, partyID string) error     { return nil }

func identityAs(userID, tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestRouter(t *testing.T, userID string) (*gin.Engine, *calls.MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := calls.NewMemoryRepo()
	dir := &calls.StaticDirectory{Parties: map[string]calls.Party{
		"alice": {ID: "alice", TenantID: "acme", DisplayName: "Alice A"},
		"bob":   {ID: "bob", TenantID: "acme", DisplayName: "Bob B"},
	}}
	coord := calls.NewCoordinator(
		calls.CoordinatorConfig{RingTimeout: time.Hour, HistoryLimit: 50},
		repo, &stubRooms{}, stubLive{}, stubPush{}, stubPresence{}, dir,
		metrics.New(prometheus.NewRegistry()), log,
	)
	reg := presence.NewRegistry(presence.NewMemoryStore(), &presence.StaticTenantResolver{}, realtime.NewHub(log), log)

	h := Handlers{
		Coordinator: coord,
		Registry:    reg,
		Hub:         realtime.NewHub(log),
		Metrics:     metrics.New(prometheus.NewRegistry()),
	}

	r := gin.New()
	v1 := r.Group("/v1", identityAs(userID, "acme", "agent"))
	v1.POST("/calls/start", h.StartCall)
	v1.POST("/calls/:attempt_id/accept", h.AcceptCall)
	v1.POST("/calls/:attempt_id/reject", h.RejectCall)
	v1.POST("/calls/:attempt_id/end", h.EndCall)
	v1.POST("/calls/token", h.Token)
	v1.GET("/calls/history", h.History)
	v1.GET("/presence", h.Roster)
	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartCallEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, "alice")

	w := doJSON(t, r, http.MethodPost, "/v1/calls/start", `{"callee_id":"bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var res struct {
		Attempt        calls.CallAttempt `json:"attempt"`
		JoinCredential string            `json:"join_credential"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Attempt.State != calls.StateInitiated || res.JoinCredential == "" {
		t.Fatalf("response = %+v", res)
	}
}

func TestStartCallEndpointValidation(t *testing.T) {
	r, _ := newTestRouter(t, "alice")

	if w := doJSON(t, r, http.MethodPost, "/v1/calls/start", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing callee status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/start", `{"callee_id":"alice"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("self call status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/start", `{"callee_id":"nobody"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown callee status = %d", w.Code)
	}
}

func TestAcceptEndpointErrorMapping(t *testing.T) {
	caller, _ := newTestRouter(t, "alice")
	w := doJSON(t, caller, http.MethodPost, "/v1/calls/start", `{"callee_id":"bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	var res struct {
		Attempt calls.CallAttempt `json:"attempt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := res.Attempt.AttemptID

	// the caller is not the callee
	if w := doJSON(t, caller, http.MethodPost, "/v1/calls/"+id+"/accept", ``); w.Code != http.StatusForbidden {
		t.Fatalf("caller accept status = %d", w.Code)
	}
	if w := doJSON(t, caller, http.MethodPost, "/v1/calls/missing/accept", ``); w.Code != http.StatusNotFound {
		t.Fatalf("missing attempt status = %d", w.Code)
	}
}

func TestRejectThenAcceptConflict(t *testing.T) {
	r, repo := newTestRouter(t, "bob")

	// seed an attempt ringing bob
	now := time.Now()
	attempt := calls.CallAttempt{
		AttemptID: "att-1", TenantID: "acme",
		CallerID: "alice", CalleeID: "bob",
		RoomName: "acme-call-alice-bob-1", State: calls.StateInitiated,
		Direction: calls.DirectionInternal,
		StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), attempt); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// reject takes an optional body; none at all must still work
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/att-1/reject", ``); w.Code != http.StatusOK {
		t.Fatalf("reject status = %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/v1/calls/att-1/accept", ``); w.Code != http.StatusConflict {
		t.Fatalf("accept after reject status = %d", w.Code)
	}
}

func TestRejectEndpointWithReason(t *testing.T) {
	r, repo := newTestRouter(t, "bob")

	now := time.Now()
	attempt := calls.CallAttempt{
		AttemptID: "att-2", TenantID: "acme",
		CallerID: "alice", CalleeID: "bob",
		RoomName: "acme-call-alice-bob-1", State: calls.StateInitiated,
		Direction: calls.DirectionInternal,
		StartedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.Create(context.Background(), attempt); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/v1/calls/att-2/reject", `{"reason":"in a meeting"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reject status = %d, body = %s", w.Code, w.Body.String())
	}
	var res calls.CallAttempt
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.State != calls.StateRejected {
		t.Fatalf("state = %s, want %s", res.State, calls.StateRejected)
	}
}

func TestTokenEndpointReturnsRoom(t *testing.T) {
	r, _ := newTestRouter(t, "alice")

	w := doJSON(t, r, http.MethodPost, "/v1/calls/start", `{"callee_id":"bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	var started struct {
		Attempt calls.CallAttempt `json:"attempt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/token", `{"attempt_id":"`+started.Attempt.AttemptID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", w.Code, w.Body.String())
	}
	var tok struct {
		JoinCredential string `json:"join_credential"`
		RoomName       string `json:"room_name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.JoinCredential == "" {
		t.Fatal("token response missing credential")
	}
	// a reconnecting client joins by room name; the credential alone is
	// not enough
	if tok.RoomName != started.Attempt.RoomName {
		t.Fatalf("room = %q, want %q", tok.RoomName, started.Attempt.RoomName)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	r, repo := newTestRouter(t, "alice")

	now := time.Now()
	for i := 0; i < 2; i++ {
		a := calls.CallAttempt{
			AttemptID: fmt.Sprintf("att-%d", i), TenantID: "acme",
			CallerID: "alice", CalleeID: "bob",
			RoomName: "room", State: calls.StateRejected,
			Direction: calls.DirectionInternal,
			StartedAt: now.Add(time.Duration(i) * time.Minute),
			CreatedAt: now, UpdatedAt: now,
		}
		if err := repo.Create(context.Background(), a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/v1/calls/history", ``)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var res struct {
		Attempts []calls.CallAttempt `json:"attempts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	if res.Attempts[0].AttemptID != "att-1" {
		t.Fatalf("history not newest-first: %+v", res.Attempts)
	}
}
