package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"basinflow.ai/internal/persistence/indexdb"
	persistlog "basinflow.ai/internal/persistence/log"
	"basinflow.ai/internal/session"
	"basinflow.ai/internal/transport/ws"
)

type app struct {
	ws      *ws.Server
	index   *indexdb.SQLiteIndex
	journal *persistlog.Journal
	log     *zap.Logger

	adminEnabled bool
}

func (a *app) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/metrics", a.metrics).Methods(http.MethodGet)
	if a.adminEnabled {
		admin := r.PathPrefix("/admin/v1").Subrouter()
		admin.Use(loopbackOnly)
		admin.HandleFunc("/sessions", a.sessions).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/ws", a.ws.Handler())
	return r
}

func (a *app) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	c := a.ws.Counters()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP basinflow_sessions_active Currently connected sessions.\n")
	fmt.Fprintf(rw, "# TYPE basinflow_sessions_active gauge\n")
	fmt.Fprintf(rw, "basinflow_sessions_active %d\n", a.ws.Active())

	fmt.Fprintf(rw, "# HELP basinflow_sessions_total Sessions accepted since start.\n")
	fmt.Fprintf(rw, "# TYPE basinflow_sessions_total counter\n")
	fmt.Fprintf(rw, "basinflow_sessions_total %d\n", a.ws.Total())

	fmt.Fprintf(rw, "# HELP basinflow_runs_total Simulations started.\n")
	fmt.Fprintf(rw, "# TYPE basinflow_runs_total counter\n")
	fmt.Fprintf(rw, "basinflow_runs_total %d\n", c.Runs.Load())

	fmt.Fprintf(rw, "# HELP basinflow_ticks_total Simulation ticks applied.\n")
	fmt.Fprintf(rw, "# TYPE basinflow_ticks_total counter\n")
	fmt.Fprintf(rw, "basinflow_ticks_total %d\n", c.Ticks.Load())

	fmt.Fprintf(rw, "# HELP basinflow_rejected_commands_total Commands rejected by validation.\n")
	fmt.Fprintf(rw, "# TYPE basinflow_rejected_commands_total counter\n")
	fmt.Fprintf(rw, "basinflow_rejected_commands_total %d\n", c.Rejected.Load())

	if a.journal != nil {
		fmt.Fprintf(rw, "# HELP basinflow_journal_failures_total Journal writes that failed.\n")
		fmt.Fprintf(rw, "# TYPE basinflow_journal_failures_total counter\n")
		fmt.Fprintf(rw, "basinflow_journal_failures_total %d\n", a.journal.Failures())
	}

	if a.index != nil {
		st := a.index.Stats()
		fmt.Fprintf(rw, "# HELP basinflow_index_dropped_total Index records dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE basinflow_index_dropped_total counter\n")
		fmt.Fprintf(rw, "basinflow_index_dropped_total %d\n", st.DroppedTotal)

		fmt.Fprintf(rw, "# HELP basinflow_index_failed_total Index records that failed to apply.\n")
		fmt.Fprintf(rw, "# TYPE basinflow_index_failed_total counter\n")
		fmt.Fprintf(rw, "basinflow_index_failed_total %d\n", st.FailedTotal)

		fmt.Fprintf(rw, "# HELP basinflow_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE basinflow_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "basinflow_index_queue_depth %d\n", st.QueueDepth)
	}
}

func (a *app) sessions(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		Sessions []session.Status `json:"sessions"`
	}{Sessions: a.ws.Sessions()}
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		a.log.Debug("admin sessions encode", zap.Error(err))
	}
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
