package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence/backend/hub"
	"presence/backend/model"
	"presence/backend/registry"
	"presence/backend/service"
)

// stubService records calls for handler-level validation tests.
type stubService struct {
	moveOK  bool
	moved   []MoveRequest
	reports []LocationRequest
}

func (s *stubService) Join(_ context.Context, _ string, _ *model.Wire) *model.Participant {
	return &model.Participant{ID: "stub"}
}

func (s *stubService) Leave(_ string, _ *model.Wire) {}

func (s *stubService) Move(id string, x, y float64) bool {
	s.moved = append(s.moved, MoveRequest{ID: id, X: &x, Y: &y})
	return s.moveOK
}

func (s *stubService) ReportLocation(id string, loc model.Location) bool {
	s.reports = append(s.reports, LocationRequest{ID: id, Location: &loc})
	return true
}

func newTestServer(t *testing.T, svc PresenceService) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()
	srv := NewServer(Config{
		Logger:          &logger,
		PresenceService: svc,
		ListenAddr:      ":0",
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestMoveValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"id":`},
		{name: "missing id", body: `{"x":1,"y":2}`},
		{name: "missing coordinate", body: `{"id":"u1","x":1}`},
		{name: "non-numeric coordinate", body: `{"id":"u1","x":"left","y":2}`},
		{name: "null coordinates", body: `{"id":"u1","x":null,"y":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{moveOK: true}
			ts := newTestServer(t, svc)

			resp := postJSON(t, ts.URL+"/move", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.False(t, errResp.OK)
			assert.NotEmpty(t, errResp.Error)
			assert.Empty(t, svc.moved, "invalid payload must not reach the service")
		})
	}
}

func TestMoveUnknownParticipant(t *testing.T) {
	svc := &stubService{moveOK: false}
	ts := newTestServer(t, svc)

	resp := postJSON(t, ts.URL+"/move", `{"id":"gone","x":1,"y":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoveSuccess(t *testing.T) {
	svc := &stubService{moveOK: true}
	ts := newTestServer(t, svc)

	resp := postJSON(t, ts.URL+"/move", `{"id":"u1","x":12.5,"y":42}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Len(t, svc.moved, 1)
	assert.Equal(t, "u1", svc.moved[0].ID)
	assert.Equal(t, 12.5, *svc.moved[0].X)
	assert.Equal(t, 42.0, *svc.moved[0].Y)
}

func TestReportLocationDropsUnrecognizedShapes(t *testing.T) {
	svc := &stubService{}
	ts := newTestServer(t, svc)

	for _, body := range []string{
		`{}`,
		`{"id":"u1"}`,
		`{"id":"u1","location":{"kind":"galaxy"}}`,
		`{"id":"u1","location":{"kind":"country"}}`,
	} {
		resp := postJSON(t, ts.URL+"/location", body)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, body)
	}
	assert.Empty(t, svc.reports)

	resp := postJSON(t, ts.URL+"/location", `{"id":"u1","location":{"kind":"country","countryCode":"FR"}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, svc.reports, 1)
	assert.Equal(t, "FR", svc.reports[0].Location.CountryCode)
}

// neverResolver keeps resolution pending so the end-to-end stream stays
// deterministic.
type neverResolver struct{}

func (neverResolver) Resolve(ctx context.Context, _ string) model.Location {
	<-ctx.Done()
	return model.UnknownLocation(false)
}

type sseClient struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func dialSSE(t *testing.T, url string) *sseClient {
	t.Helper()
	resp, err := http.Get(url + "/events")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return &sseClient{resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

// next returns the next decoded event frame, skipping the retry preamble
// and blank keep-alive lines.
func (c *sseClient) next(t *testing.T) model.Event {
	t.Helper()
	done := make(chan model.Event, 1)
	go func() {
		for c.scanner.Scan() {
			line := c.scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			done <- ev
			return
		}
	}()
	select {
	case ev := <-done:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestEventStreamEndToEnd(t *testing.T) {
	logger := zerolog.Nop()
	svc := service.NewPresence(service.Config{
		Registry: registry.New(),
		Hub:      hub.NewHub(&logger),
		Resolver: neverResolver{},
		Logger:   &logger,
	})
	ts := newTestServer(t, svc)

	clientA := dialSSE(t, ts.URL)

	self := clientA.next(t)
	require.Equal(t, model.EventTypeSelf, self.Type)
	require.NotNil(t, self.User)
	aID := self.User.ID
	assert.Equal(t, model.LocationKindUnknown, self.User.Location.Kind)

	snap := clientA.next(t)
	require.Equal(t, model.EventTypeSnapshot, snap.Type)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, aID, snap.Users[0].ID)

	clientB := dialSSE(t, ts.URL)
	bSelf := clientB.next(t)
	require.Equal(t, model.EventTypeSelf, bSelf.Type)
	bID := bSelf.User.ID

	bSnap := clientB.next(t)
	require.Equal(t, model.EventTypeSnapshot, bSnap.Type)
	assert.Len(t, bSnap.Users, 2)

	join := clientA.next(t)
	require.Equal(t, model.EventTypeJoin, join.Type)
	require.NotNil(t, join.User)
	assert.Equal(t, bID, join.User.ID)

	resp := postJSON(t, ts.URL+"/move", `{"id":"`+aID+`","x":100,"y":200}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	mv := clientB.next(t)
	require.Equal(t, model.EventTypeMove, mv.Type)
	assert.Equal(t, aID, mv.ID)
	require.NotNil(t, mv.X)
	require.NotNil(t, mv.Y)
	assert.Equal(t, 100.0, *mv.X)
	assert.Equal(t, 200.0, *mv.Y)

	// A disconnects; B must see the departure and later moves for A fail
	_ = clientA.resp.Body.Close()

	leave := clientB.next(t)
	require.Equal(t, model.EventTypeLeave, leave.Type)
	assert.Equal(t, aID, leave.ID)

	require.Eventually(t, func() bool {
		resp, err := http.Post(ts.URL+"/move", "application/json",
			strings.NewReader(`{"id":"`+aID+`","x":1,"y":2}`))
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusBadRequest
	}, 2*time.Second, 50*time.Millisecond)
}
