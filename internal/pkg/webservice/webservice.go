// Package webservice exposes a routine over HTTP and streams its messages
// over a websocket.
package webservice

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
)

// Routine is what the service needs from a dispatch routine.
type Routine interface {
	dispatch.Dispatcher
	Result() solver.Result
	Values(name string) ([][]float64, error)
}

// App routes requests to one routine.
type App struct {
	routine  Routine
	log      logr.Logger
	upgrader websocket.Upgrader
}

// ResultSummary is the body of GET /routine/result.
type ResultSummary struct {
	Routine    string  `json:"routine"`
	Status     string  `json:"status"`
	Objective  float64 `json:"objective"`
	Iterations int     `json:"iterations"`
	Runtime    string  `json:"runtime"`
}

// RunRequest is the optional body of POST /routine/run.
type RunRequest struct {
	Period    *int   `json:"period,omitempty"`
	TimeLimit string `json:"time_limit,omitempty"`
}

// Event is one websocket frame.
type Event struct {
	Topic   string      `json:"topic"`
	PID     uuid.UUID   `json:"pid"`
	Payload interface{} `json:"payload"`
}

type errorBody struct {
	Error  string                 `json:"error"`
	Status *dispatch.StatusReport `json:"status,omitempty"`
}

// New returns an App serving r.
func New(r Routine, log logr.Logger) *App {
	return &App{
		routine: r,
		log:     log.WithName("Webservice"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router returns the service routes.
func (app *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", app.BaseHandler)
	r.HandleFunc("/routine/status", app.StatusHandler).Methods("GET")
	r.HandleFunc("/routine/result", app.ResultHandler).Methods("GET")
	r.HandleFunc("/routine/vars/{name}", app.VarsHandler).Methods("GET")
	r.HandleFunc("/routine/run", app.RunHandler).Methods("POST")
	r.HandleFunc("/routine/stream", app.StreamHandler)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// BaseHandler answers liveness checks.
func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"routine": app.routine.Name()})
}

// StatusHandler returns the routine's status report.
func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.routine.Report())
}

// ResultHandler returns the last solver result of a solved routine.
func (app *App) ResultHandler(w http.ResponseWriter, r *http.Request) {
	if app.routine.State() != dispatch.Solved {
		report := app.routine.Report()
		writeJSON(w, http.StatusConflict, errorBody{Error: dispatch.ErrNotSolved.Error(), Status: &report})
		return
	}
	res := app.routine.Result()
	writeJSON(w, http.StatusOK, ResultSummary{
		Routine:    app.routine.Name(),
		Status:     res.Status.String(),
		Objective:  res.Objective,
		Iterations: res.Iterations,
		Runtime:    res.Runtime.String(),
	})
}

// VarsHandler returns the solved values of one variable.
func (app *App) VarsHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rows, err := app.routine.Values(name)
	switch {
	case errors.Is(err, dispatch.ErrNotSolved):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, rows)
	}
}

// RunHandler sets up, solves and unpacks the routine.
func (app *App) RunHandler(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON: " + err.Error()})
		return
	}
	opts := dispatch.RunOptions{Unpack: dispatch.UnpackOptions{Period: req.Period}}
	if req.TimeLimit != "" {
		d, err := time.ParseDuration(req.TimeLimit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		opts.Solve.TimeLimit = d
	}

	ctx := logr.NewContext(r.Context(), app.log)
	if err := app.routine.Run(ctx, opts); err != nil {
		report := app.routine.Report()
		app.log.Error(err, "run failed")
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Status: &report})
		return
	}
	writeJSON(w, http.StatusOK, app.routine.Report())
}

// StreamHandler upgrades to a websocket and forwards every Status and
// Result message until the client goes away.
func (app *App) StreamHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := uuid.NewUUID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status, err := app.routine.Subscribe(pid, msg.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer app.routine.Unsubscribe(pid)
	result, err := app.routine.Subscribe(pid, msg.Result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.log.Error(err, "upgrade")
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		var (
			m  msg.Msg
			ok bool
		)
		select {
		case m, ok = <-status:
		case m, ok = <-result:
		case <-gone:
			return
		}
		if !ok {
			return
		}
		ev := Event{Topic: m.Topic().String(), PID: m.PID(), Payload: m.Payload()}
		if err := conn.WriteJSON(ev); err != nil {
			app.log.V(1).Info("stream closed", "err", err.Error())
			return
		}
	}
}
