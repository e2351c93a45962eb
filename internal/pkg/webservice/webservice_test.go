package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch/dcopf"
	"github.com/ohowland/cgc_dispatch/internal/pkg/system"
	"gotest.tools/v3/assert"
)

const twoBus = `
Bus: [{idx: B1}, {idx: B2}]
StaticGen: [{idx: G1, bus: B1, p0: 0, pmax: 5, pmin: 0}]
PQ: [{idx: L1, bus: B2, p0: 2}]
Line: [{idx: L12, bus1: B1, bus2: B2, x: 0.1, rate_a: 10}]
GCost: [{idx: C1, gen: G1, c2: 0.01, c1: 1, c0: 0}]
`

func newApp(t *testing.T) (*App, *dispatch.Routine) {
	t.Helper()
	c, err := system.ParseCase([]byte(twoBus))
	assert.NilError(t, err)
	s, err := system.Build(c)
	assert.NilError(t, err)
	r, err := dcopf.New(s, dispatch.DefaultConfig())
	assert.NilError(t, err)
	return New(r, logr.Discard()), r
}

func do(t *testing.T, app *App, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "http://example.com"+target, bytes.NewReader(body))
	app.Router().ServeHTTP(w, req)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")
	return w
}

func TestStatusBeforeRun(t *testing.T) {
	app, r := newApp(t)

	w := do(t, app, "GET", "/routine/status", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var report dispatch.StatusReport
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, report.Routine, "DCOPF")
	assert.Equal(t, report.PID, r.PID())
	assert.Equal(t, report.State, "uninitialized")

	w = do(t, app, "GET", "/routine/result", nil)
	assert.Equal(t, w.Code, http.StatusConflict)

	w = do(t, app, "GET", "/routine/vars/pg", nil)
	assert.Equal(t, w.Code, http.StatusConflict)
}

func TestRunAndRead(t *testing.T) {
	app, _ := newApp(t)

	w := do(t, app, "POST", "/routine/run", []byte(`{"time_limit": "5s"}`))
	assert.Equal(t, w.Code, http.StatusOK, w.Body.String())

	w = do(t, app, "GET", "/routine/result", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var sum ResultSummary
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, sum.Status, "optimal")

	w = do(t, app, "GET", "/routine/vars/pg", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var pg [][]float64
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &pg))
	assert.Equal(t, len(pg), 1)
	assert.Assert(t, pg[0][0] > 1.999 && pg[0][0] < 2.001, "pg = %v", pg)

	w = do(t, app, "GET", "/routine/vars/nope", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRunBadRequest(t *testing.T) {
	app, _ := newApp(t)

	w := do(t, app, "POST", "/routine/run", []byte(`{"period": "x"}`))
	assert.Equal(t, w.Code, http.StatusBadRequest)

	w = do(t, app, "POST", "/routine/run", []byte(`{"time_limit": "soon"}`))
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestStream(t *testing.T) {
	app, r := newApp(t)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/routine/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()

	assert.NilError(t, r.Run(context.Background(), dispatch.RunOptions{}))

	assert.NilError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	topics := map[string]bool{}
	for !topics["result"] || !topics["status"] {
		var ev struct {
			Topic   string          `json:"topic"`
			Payload json.RawMessage `json:"payload"`
		}
		assert.NilError(t, conn.ReadJSON(&ev))
		topics[ev.Topic] = true
		if ev.Topic == "result" {
			var res dispatch.Result
			assert.NilError(t, json.Unmarshal(ev.Payload, &res))
			assert.Equal(t, res.Routine, "DCOPF")
			assert.Equal(t, res.Status, "optimal")
		}
	}
}
