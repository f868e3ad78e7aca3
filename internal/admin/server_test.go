package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/pipectl/internal/auth"
	"github.com/danmuck/pipectl/internal/endpoint"
	"github.com/danmuck/pipectl/internal/pipe"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/danmuck/pipectl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	pipes []*pipe.Pipe
}

func (s staticSource) Pipes() []*pipe.Pipe { return s.pipes }

func (s staticSource) Lookup(id string) (*pipe.Pipe, bool) {
	for _, p := range s.pipes {
		if p.ID().String() == id {
			return p, true
		}
	}
	return nil, false
}

func connectedPipes(t *testing.T) (*pipe.Pipe, *pipe.Pipe) {
	t.Helper()
	c1, c2 := net.Pipe()
	local := pipe.New(c1, pipe.DefaultConfig())
	cfg := pipe.DefaultConfig()
	cfg.Primary = true
	peer := pipe.New(c2, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = local.Serve(ctx) }()
	go func() { _ = peer.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		_ = peer.Close()
	})
	return local, peer
}

func do(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	var body map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
	}
	return rr, body
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestHealthAndPipeListing(t *testing.T) {
	testlog.Start(t)
	local, _ := connectedPipes(t)
	require.NoError(t, local.Endpoints().Attach(3))
	s := New("pipectl-test", staticSource{pipes: []*pipe.Pipe{local}}, nil, nil)

	rr, body := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["pipes"])

	rr, body = do(t, s, http.MethodGet, "/pipes")
	require.Equal(t, http.StatusOK, rr.Code)
	pipes := body["pipes"].([]any)
	require.Len(t, pipes, 1)
	require.Equal(t, local.ID().String(), pipes[0].(map[string]any)["id"])
	require.EqualValues(t, 1, pipes[0].(map[string]any)["endpoints"])

	rr, body = do(t, s, http.MethodGet, "/pipes/"+local.ID().String()+"/endpoints")
	require.Equal(t, http.StatusOK, rr.Code)
	eps := body["endpoints"].([]any)
	require.Len(t, eps, 1)
	require.Equal(t, "open", eps[0].(map[string]any)["state"])

	rr, _ = do(t, s, http.MethodGet, "/pipes/missing/endpoints")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteEndpointNotifiesPeer(t *testing.T) {
	testlog.Start(t)
	local, peer := connectedPipes(t)
	require.NoError(t, local.Endpoints().Attach(5))
	require.NoError(t, peer.Endpoints().Attach(5))
	s := New("pipectl-test", staticSource{pipes: []*pipe.Pipe{local}}, []string{"http://example.test"}, nil)

	rr, body := do(t, s, http.MethodDelete, "/pipes/"+local.ID().String()+"/endpoints/5?code=3&reason=peer+crashed")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "closed", body["status"])

	require.Eventually(t, func() bool {
		ep, ok := peer.Endpoints().Get(5)
		return ok && ep.State == endpoint.StatePeerClosed
	}, 2*time.Second, 5*time.Millisecond)
	ep, _ := peer.Endpoints().Get(5)
	require.Equal(t, &pipecontrol.DisconnectReason{CustomReason: 3, Description: "peer crashed"}, ep.PeerReason)

	rr, _ = do(t, s, http.MethodDelete, "/pipes/"+local.ID().String()+"/endpoints/5")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestDeleteEndpointWithEmptyReasonSendsPresentReason(t *testing.T) {
	testlog.Start(t)
	local, peer := connectedPipes(t)
	id, err := local.Endpoints().Allocate()
	require.NoError(t, err)
	s := New("pipectl-test", staticSource{pipes: []*pipe.Pipe{local}}, nil, nil)

	rr, _ := do(t, s, http.MethodDelete, "/pipes/"+local.ID().String()+"/endpoints/"+id.String()+"?reason=")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Eventually(t, func() bool {
		ep, ok := peer.Endpoints().Get(id)
		return ok && ep.PeerReason != nil
	}, 2*time.Second, 5*time.Millisecond)
	ep, _ := peer.Endpoints().Get(id)
	require.Equal(t, pipecontrol.DisconnectReason{}, *ep.PeerReason)
}

func TestDeleteEndpointRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	local, _ := connectedPipes(t)
	s := New("pipectl-test", staticSource{pipes: []*pipe.Pipe{local}}, nil, nil)
	base := "/pipes/" + local.ID().String() + "/endpoints/"

	rr, _ := do(t, s, http.MethodDelete, base+"abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, s, http.MethodDelete, base+"0xFFFFFFFF")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, s, http.MethodDelete, base+"1?code=-1")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr, _ = do(t, s, http.MethodDelete, base+"1")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = do(t, s, http.MethodDelete, "/pipes/nope/endpoints/1")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteEndpointRequiresTokenWhenGuarded(t *testing.T) {
	testlog.Start(t)
	local, _ := connectedPipes(t)
	require.NoError(t, local.Endpoints().Attach(2))
	s := New("pipectl-test", staticSource{pipes: []*pipe.Pipe{local}}, nil, auth.StaticToken{Token: "s3cret"})
	path := "/pipes/" + local.ID().String() + "/endpoints/2"

	rr, _ := do(t, s, http.MethodDelete, path)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodDelete, path, nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rr, _ = do(t, s, http.MethodGet, "/pipes")
	require.Equal(t, http.StatusOK, rr.Code)
}
