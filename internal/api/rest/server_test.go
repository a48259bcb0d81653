package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/api/websocket"
	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/KevinKickass/OpenDO96/internal/config"
	"github.com/KevinKickass/OpenDO96/internal/devices"
	"github.com/KevinKickass/OpenDO96/internal/interfaces"
	"github.com/KevinKickass/OpenDO96/internal/storage"
	"github.com/KevinKickass/OpenDO96/internal/types"
	"github.com/KevinKickass/OpenDO96/internal/usbdo96"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

// jwtOnlyStore satisfies auth.Store; JWT authentication never touches it.
type jwtOnlyStore struct{ auth.Store }

type memTransport struct {
	mu      sync.Mutex
	frames  []usbdo96.CommandFrame
	openErr error
	sendErr error
}

func (m *memTransport) Open(ctx context.Context) (usbdo96.Conn, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m, nil
}

func (m *memTransport) Send(f usbdo96.CommandFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, f)
	return nil
}

func (m *memTransport) Close() error { return nil }

type memCardStore struct {
	mu      sync.Mutex
	saved   map[string]types.CardDefinition
	deleted []string
	journal []storage.JournalEntry
}

func (s *memCardStore) SaveCard(ctx context.Context, def types.CardDefinition) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]types.CardDefinition)
	}
	s.saved[def.Name] = def
	return uuid.New(), nil
}

func (s *memCardStore) DeleteCard(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[name]; !ok {
		return storage.ErrNotFound
	}
	delete(s.saved, name)
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *memCardStore) ListJournal(ctx context.Context, cardName string, limit int) ([]storage.JournalEntry, error) {
	var out []storage.JournalEntry
	for _, e := range s.journal {
		if e.CardName == cardName && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeLifecycle struct {
	cfg      *config.Config
	manager  *devices.Manager
	store    interfaces.CardStore
	shutdown chan struct{}
}

func (f *fakeLifecycle) Config() *config.Config          { return f.cfg }
func (f *fakeLifecycle) CardManager() *devices.Manager   { return f.manager }
func (f *fakeLifecycle) CardStore() interfaces.CardStore { return f.store }
func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", CardCount: len(f.manager.ListCards())}
}
func (f *fakeLifecycle) Shutdown(ctx context.Context) error {
	close(f.shutdown)
	return nil
}

type testEnv struct {
	handler   http.Handler
	lm        *fakeLifecycle
	transport *memTransport
	tokens    map[string]string
}

func newTestEnv(t *testing.T, store interfaces.CardStore) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	transport := &memTransport{}
	factory := func(types.CardDefinition, *types.CardProfileDefinition) (usbdo96.Transport, error) {
		return transport, nil
	}
	manager, err := devices.NewManager(nil, factory, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := &config.Config{}
	authService := auth.NewAuthService(jwtOnlyStore{}, config.AuthConfig{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: time.Hour,
	}, logger)

	lm := &fakeLifecycle{cfg: cfg, manager: manager, store: store, shutdown: make(chan struct{})}
	srv := NewServer(cfg, lm, logger, websocket.NewHub(logger, authService), authService)

	tokens := make(map[string]string)
	for _, role := range []string{"operator", "technician", "admin"} {
		token, err := authService.GenerateAccessToken(uuid.New(), role+"-user", role)
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		tokens[role] = token
	}

	return &testEnv{handler: srv.Handler(), lm: lm, transport: transport, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[types.ErrorResponse](t, rec).Error.Code
}

func (e *testEnv) createOpenCard(t *testing.T, name string) {
	t.Helper()
	expectStatus(t, e.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{
		Name:         name,
		Port:         "/dev/ttyUSB0",
		IOMapping:    map[string]int{"lamp": 5},
		ResetOnClose: true,
	}), http.StatusCreated)
	expectStatus(t, e.do(t, "POST", "/api/v1/cards/"+name+"/init", "technician", nil), http.StatusOK)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, nil)
	expectStatus(t, env.do(t, "GET", "/health", "", nil), http.StatusOK)
}

func TestPermissions(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"no token", "GET", "/api/v1/cards", "", http.StatusUnauthorized},
		{"operator lists cards", "GET", "/api/v1/cards", "operator", http.StatusOK},
		{"operator cannot register", "POST", "/api/v1/cards", "operator", http.StatusForbidden},
		{"operator cannot open sessions", "POST", "/api/v1/cards/x/init", "operator", http.StatusForbidden},
		{"technician cannot delete", "DELETE", "/api/v1/cards/x", "technician", http.StatusForbidden},
		{"operator cannot shut down", "POST", "/api/v1/system/shutdown", "operator", http.StatusForbidden},
		{"operator reads status", "GET", "/api/v1/system/status", "operator", http.StatusOK},
		{"operator cannot manage tokens", "GET", "/api/v1/machine-tokens", "operator", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, tt.method, tt.path, tt.role, nil), tt.want)
		})
	}
}

func TestCardLifecycleOverREST(t *testing.T) {
	store := &memCardStore{}
	env := newTestEnv(t, store)
	env.createOpenCard(t, "press")

	if _, ok := store.saved["press"]; !ok {
		t.Fatal("card registration not persisted")
	}

	rec := env.do(t, "POST", "/api/v1/cards/press/on", "operator", map[string]interface{}{
		"channels": []interface{}{1, "lamp"},
	})
	expectStatus(t, rec, http.StatusOK)
	op := decode[OperationResponse](t, rec)
	if op.Frames != 4 || op.Clusters != 1 {
		t.Fatalf("frames=%d clusters=%d, want 4/1", op.Frames, op.Clusters)
	}
	if len(op.OnChannels) != 2 || op.OnChannels[0] != 1 || op.OnChannels[1] != 5 {
		t.Fatalf("on channels = %v, want [1 5]", op.OnChannels)
	}

	state := decode[StateResponse](t, env.do(t, "GET", "/api/v1/cards/press/state", "operator", nil))
	if !state.Open || len(state.OnChannels) != 2 || state.LastC != 0x11 {
		t.Fatalf("unexpected state %+v", state)
	}
	if got := state.Labels[5]; len(got) != 1 || got[0] != "lamp" {
		t.Fatalf("labels of 5 = %v", got)
	}

	rec = env.do(t, "POST", "/api/v1/cards/press/set", "operator", SetRequest{
		On:  types.RefsOf(17),
		Off: types.RefsOf(1),
	})
	expectStatus(t, rec, http.StatusOK)
	if op := decode[OperationResponse](t, rec); len(op.Changed) != 2 {
		t.Fatalf("changed = %v, want two channels", op.Changed)
	}

	rec = env.do(t, "POST", "/api/v1/cards/press/reset", "operator", nil)
	expectStatus(t, rec, http.StatusOK)
	if op := decode[OperationResponse](t, rec); op.Clusters != 1 || len(op.OnChannels) != 0 {
		t.Fatalf("reset = %+v", op)
	}

	expectStatus(t, env.do(t, "POST", "/api/v1/cards/press/all-on", "operator", nil), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/api/v1/cards/press/close", "technician", nil), http.StatusOK)

	expectStatus(t, env.do(t, "DELETE", "/api/v1/cards/press", "admin", nil), http.StatusOK)
	if len(store.deleted) != 1 {
		t.Fatalf("store deletions = %v", store.deleted)
	}
	expectStatus(t, env.do(t, "GET", "/api/v1/cards/press", "operator", nil), http.StatusNotFound)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createOpenCard(t, "press")
	expectStatus(t, env.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{Name: "idle"}), http.StatusCreated)

	tests := []struct {
		name     string
		path     string
		body     interface{}
		want     int
		wantCode string
	}{
		{"out of range", "/api/v1/cards/press/on", ChannelsRequest{Channels: types.RefsOf(97)}, http.StatusBadRequest, "CHANNEL_OUT_OF_RANGE"},
		{"unknown label", "/api/v1/cards/press/on", map[string]interface{}{"channels": []string{"nope"}}, http.StatusBadRequest, "CHANNEL_OUT_OF_RANGE"},
		{"conflict", "/api/v1/cards/press/set", SetRequest{On: types.RefsOf(3), Off: types.RefsOf(3)}, http.StatusBadRequest, "CONFLICTING_REQUEST"},
		{"not open", "/api/v1/cards/idle/on", ChannelsRequest{Channels: types.RefsOf(1)}, http.StatusConflict, "NOT_OPEN"},
		{"unknown card", "/api/v1/cards/ghost/on", ChannelsRequest{Channels: types.RefsOf(1)}, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", tt.path, "operator", tt.body)
			expectStatus(t, rec, tt.want)
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Fatalf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}

	rec := env.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{Name: "press"})
	expectStatus(t, rec, http.StatusConflict)
}

func TestTransportFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createOpenCard(t, "press")

	env.transport.mu.Lock()
	env.transport.sendErr = errors.New("unplugged")
	env.transport.mu.Unlock()

	rec := env.do(t, "POST", "/api/v1/cards/press/on", "operator", ChannelsRequest{Channels: types.RefsOf(1)})
	expectStatus(t, rec, http.StatusBadGateway)

	// Nothing was committed.
	state := decode[StateResponse](t, env.do(t, "GET", "/api/v1/cards/press/state", "operator", nil))
	if len(state.OnChannels) != 0 {
		t.Fatalf("state changed after failed send: %v", state.OnChannels)
	}
}

func TestDiscoveryFailureMapsToFailedDependency(t *testing.T) {
	env := newTestEnv(t, nil)
	env.transport.openErr = usbdo96.ErrAmbiguousDevice
	expectStatus(t, env.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{Name: "press"}), http.StatusCreated)

	rec := env.do(t, "POST", "/api/v1/cards/press/init", "admin", nil)
	expectStatus(t, rec, http.StatusFailedDependency)
	if code := errorCode(t, rec); code != "AMBIGUOUS_DEVICE" {
		t.Fatalf("code = %s", code)
	}
}

func TestJournal(t *testing.T) {
	t.Run("database disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		expectStatus(t, env.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{Name: "press"}), http.StatusCreated)
		expectStatus(t, env.do(t, "GET", "/api/v1/cards/press/journal", "operator", nil), http.StatusServiceUnavailable)
	})

	t.Run("entries", func(t *testing.T) {
		store := &memCardStore{journal: []storage.JournalEntry{
			{ID: 1, CardName: "press", Operation: "turn_on", OnChannels: []int32{1}},
			{ID: 2, CardName: "other", Operation: "reset"},
			{ID: 3, CardName: "press", Operation: "reset"},
		}}
		env := newTestEnv(t, store)
		expectStatus(t, env.do(t, "POST", "/api/v1/cards", "admin", types.CardDefinition{Name: "press"}), http.StatusCreated)

		rec := env.do(t, "GET", "/api/v1/cards/press/journal?limit=1", "operator", nil)
		expectStatus(t, rec, http.StatusOK)
		body := decode[struct {
			Count   int                    `json:"count"`
			Entries []storage.JournalEntry `json:"entries"`
		}](t, rec)
		if body.Count != 1 || body.Entries[0].ID != 1 {
			t.Fatalf("unexpected journal %+v", body)
		}

		expectStatus(t, env.do(t, "GET", "/api/v1/cards/press/journal?limit=zero", "operator", nil), http.StatusBadRequest)
	})
}

func TestShutdownRunsInBackground(t *testing.T) {
	env := newTestEnv(t, nil)
	expectStatus(t, env.do(t, "POST", "/api/v1/system/shutdown", "admin", nil), http.StatusAccepted)

	select {
	case <-env.lm.shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown not triggered")
	}
}

func TestProfiles(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, "GET", "/api/v1/profiles", "operator", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := decode[struct {
		Count int `json:"count"`
	}](t, rec); body.Count != 0 {
		t.Fatalf("count = %d with no search paths", body.Count)
	}

	expectStatus(t, env.do(t, "GET", "/api/v1/profiles/usbdo96", "operator", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, "POST", "/api/v1/profiles/reload", "operator", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, "POST", "/api/v1/profiles/reload", "admin", nil), http.StatusOK)
}

func TestErrorStatusTable(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"locked account", fmt.Errorf("%w until tomorrow", auth.ErrAccountLocked), http.StatusForbidden, "ACCOUNT_LOCKED"},
		{"bad password", auth.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"bad token", fmt.Errorf("%w: expired", auth.ErrInvalidToken), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"missing token row", fmt.Errorf("machine token %w", storage.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"transport", &usbdo96.TransportError{Op: "send", Err: errors.New("eio")}, http.StatusBadGateway, "TRANSPORT_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Fatalf("got %d %s, want %d %s", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestInvalidBodies(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createOpenCard(t, "press")

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		body   interface{}
		want   string
	}{
		{"card definition", "POST", "/api/v1/cards", "admin", "not an object", "INVALID_REQUEST"},
		{"channels", "POST", "/api/v1/cards/press/on", "operator", []int{1}, "INVALID_REQUEST"},
		{"login", "POST", "/api/v1/auth/login", "", map[string]string{"username": "x"}, "INVALID_REQUEST"},
		{"token id", "DELETE", "/api/v1/machine-tokens/not-a-uuid", "admin", nil, "INVALID_REQUEST"},
		{"token permission", "POST", "/api/v1/machine-tokens", "admin", map[string]interface{}{"name": "plc", "permissions": []string{"root"}}, "UNKNOWN_PERMISSION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.role, tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
			if code := errorCode(t, rec); code != tt.want {
				t.Fatalf("code = %s, want %s", code, tt.want)
			}
		})
	}
}
