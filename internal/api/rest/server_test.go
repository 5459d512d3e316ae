package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware/sim"
	"github.com/KevinKickass/OpenSPIMCore/internal/interfaces"
	"github.com/KevinKickass/OpenSPIMCore/internal/machine"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/script"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

type testLM struct {
	cfg     *config.Config
	panel   *panel.Panel
	scripts *script.Registry
}

func (l *testLM) Config() *config.Config            { return l.cfg }
func (l *testLM) Panel() *panel.Panel               { return l.panel }
func (l *testLM) Scripts() *script.Registry         { return l.scripts }
func (l *testLM) RunHistory() interfaces.RunHistory { return nil }
func (l *testLM) Shutdown(context.Context) error    { return nil }
func (l *testLM) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Microscope: "idle"}
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) (http.Handler, *testLM) {
	t.Helper()

	cfg := config.Default()
	cfg.Auth = authCfg
	cfg.Acquisition.ListPath = filepath.Join(t.TempDir(), "default.json")

	schema, initial, err := state.SchemaFromConfig(cfg.Microscope)
	require.NoError(t, err)
	model, err := state.NewModel(schema, initial, zap.NewNop())
	require.NoError(t, err)

	scope := sim.New(config.SimConfig{})
	ch := dispatch.NewChannel()
	ctrl := machine.NewController(zap.NewNop(), model, ch, hardware.NewRig(scope, scope, zap.NewNop(), scope), nil, 1000)
	p := panel.New(zap.NewNop(), ch, cfg.Microscope, model.Snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ctrl.Run(ctx) }()
	go func() { defer wg.Done(); p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	svc, err := auth.NewAuthService(cfg.Auth, zap.NewNop())
	require.NoError(t, err)

	lm := &testLM{cfg: cfg, panel: p, scripts: script.NewRegistry(p, zap.NewNop())}
	hub := websocket.NewHub(zap.NewNop(), svc, p)
	return NewServer(cfg, lm, zap.NewNop(), hub, svc).Handler(), lm
}

func call(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func waitIdle(t *testing.T, lm *testLM) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lm.panel.WaitIdle(ctx))
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, config.AuthConfig{})
	assert.Equal(t, http.StatusOK, call(t, h, http.MethodGet, "/health", nil, "").Code)
}

func TestStateRoundTrip(t *testing.T) {
	h, lm := newTestServer(t, config.AuthConfig{})

	w := call(t, h, http.MethodPatch, "/api/v1/state", map[string]any{"zoom": "2x"}, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "change_request", decode[types.CommandResponse](t, w).Command)
	waitIdle(t, lm)

	w = call(t, h, http.MethodGet, "/api/v1/state", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2x", decode[map[string]any](t, w)["zoom"])

	w = call(t, h, http.MethodPatch, "/api/v1/state", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandEndpoint(t *testing.T) {
	h, lm := newTestServer(t, config.AuthConfig{})

	w := call(t, h, http.MethodPost, "/api/v1/microscope/command",
		types.CommandRequest{Command: "move_absolute", Axis: "x", Value: 12}, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	waitIdle(t, lm)

	w = call(t, h, http.MethodGet, "/api/v1/microscope/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status panel.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 12.0, body.Status.State.Float(state.KeyXPos))

	w = call(t, h, http.MethodPost, "/api/v1/microscope/command", types.CommandRequest{Command: "focus"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestZeroAxesEndpoint(t *testing.T) {
	h, lm := newTestServer(t, config.AuthConfig{})
	xPos := func() float64 {
		st, err := lm.panel.Status()
		require.NoError(t, err)
		return st.State.Float(state.KeyXPos)
	}
	issue := func(req types.CommandRequest) {
		w := call(t, h, http.MethodPost, "/api/v1/microscope/command", req, "")
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		waitIdle(t, lm)
	}

	issue(types.CommandRequest{Command: "move_absolute", Axis: "x", Value: 12})
	issue(types.CommandRequest{Command: "zero_axes", Axes: []string{"xy"}})
	assert.Equal(t, 0.0, xPos())

	issue(types.CommandRequest{Command: "move_relative", Axis: "x", Value: 3})
	assert.Equal(t, 3.0, xPos())

	issue(types.CommandRequest{Command: "unzero_axes", Axes: []string{"x"}})
	assert.Equal(t, 15.0, xPos())

	w := call(t, h, http.MethodPost, "/api/v1/microscope/command", types.CommandRequest{Command: "zero_axes"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcquisitionListEditing(t *testing.T) {
	h, _ := newTestServer(t, config.AuthConfig{})

	w := call(t, h, http.MethodPost, "/api/v1/acquisitions/entries", map[string]any{"z_end": 30, "z_step": 10}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode[listResponse](t, w).Entries, 2)

	w = call(t, h, http.MethodPatch, "/api/v1/acquisitions/entries/0", map[string]any{"z_end": 20, "z_step": 5}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, h, http.MethodGet, "/api/v1/acquisitions/summary", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[panel.Summary](t, w)
	assert.Equal(t, 7, sum.TotalImageCount)

	w = call(t, h, http.MethodPatch, "/api/v1/acquisitions/entries/0", map[string]any{"z_step": 0}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(t, h, http.MethodPatch, "/api/v1/acquisitions/entries/0", map[string]any{"filename": "../escaped.fits"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = call(t, h, http.MethodPost, "/api/v1/acquisitions/entries/1/move", map[string]any{"to": 0}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 30.0, decode[listResponse](t, w).Entries[0].ZEnd)

	w = call(t, h, http.MethodDelete, "/api/v1/acquisitions/entries/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = call(t, h, http.MethodDelete, "/api/v1/acquisitions/entries/0", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReplaceSaveAndLoadList(t *testing.T) {
	h, _ := newTestServer(t, config.AuthConfig{})

	doc := []map[string]any{
		{"z_start": 0, "z_end": 10, "z_step": 1, "filename": "a.fits"},
		{"z_start": 5, "z_end": 0, "z_step": 1},
	}
	w := call(t, h, http.MethodPut, "/api/v1/acquisitions", doc, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, h, http.MethodPut, "/api/v1/acquisitions", []map[string]any{{"z_start": 0, "z_end": 1, "z_step": 0}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// default path from the configuration
	w = call(t, h, http.MethodPost, "/api/v1/acquisitions/save", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, h, http.MethodPut, "/api/v1/acquisitions", []map[string]any{{"z_start": 0, "z_end": 1, "z_step": 1}}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = call(t, h, http.MethodPost, "/api/v1/acquisitions/load", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[listResponse](t, w)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "a.fits", list.Entries[0].Filename)
	assert.Equal(t, "488 nm", list.Entries[1].Laser)
}

func TestScripts(t *testing.T) {
	h, _ := newTestServer(t, config.AuthConfig{})

	w := call(t, h, http.MethodPost, "/api/v1/scripts", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	sess := decode[script.Session](t, w)
	assert.Equal(t, "Script Window #0", sess.Title)

	w = call(t, h, http.MethodPost, "/api/v1/scripts/0/execute", map[string]any{"script": "set zoom 4x\nmove_abs y 3\nwait"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, h, http.MethodGet, "/api/v1/state", nil, "")
	st := decode[map[string]any](t, w)
	assert.Equal(t, "4x", st["zoom"])
	assert.Equal(t, 3.0, st["y_pos"])

	w = call(t, h, http.MethodPost, "/api/v1/scripts/7/execute", map[string]any{"script": "stop"}, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = call(t, h, http.MethodPost, "/api/v1/scripts/0/execute", map[string]any{"script": "jump"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHistoryWithoutDatabase(t *testing.T) {
	h, _ := newTestServer(t, config.AuthConfig{})
	assert.Equal(t, http.StatusServiceUnavailable, call(t, h, http.MethodGet, "/api/v1/runs", nil, "").Code)
}

func TestAuthenticatedRoutes(t *testing.T) {
	hash, err := auth.NewPasswordHasherWithCost(8*1024, 1).HashPassword("pw")
	require.NoError(t, err)
	h, _ := newTestServer(t, config.AuthConfig{
		Enabled:        true,
		AccessTokenTTL: time.Hour,
		Operators:      []config.OperatorConfig{{Username: "op", PasswordHash: hash, Role: "operator"}},
	})

	assert.Equal(t, http.StatusUnauthorized, call(t, h, http.MethodGet, "/api/v1/state", nil, "").Code)

	w := call(t, h, http.MethodPost, "/api/v1/auth/token", LoginRequest{Username: "op", Password: "bad"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(t, h, http.MethodPost, "/api/v1/auth/token", LoginRequest{Username: "op", Password: "pw"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[LoginResponse](t, w).AccessToken

	assert.Equal(t, http.StatusOK, call(t, h, http.MethodGet, "/api/v1/state", nil, token).Code)
	// operators may not touch files on the host
	assert.Equal(t, http.StatusForbidden, call(t, h, http.MethodPost, "/api/v1/acquisitions/save", nil, token).Code)
	assert.Equal(t, http.StatusForbidden, call(t, h, http.MethodPost, "/api/v1/system/shutdown", nil, token).Code)
}
