package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/percona/percona-docbridge/bridge"
	"github.com/percona/percona-docbridge/bridge/query"
	"github.com/percona/percona-docbridge/bridge/repl"
	"github.com/percona/percona-docbridge/bridge/txn"
	"github.com/percona/percona-docbridge/config"
	"github.com/percona/percona-docbridge/connector"
	"github.com/percona/percona-docbridge/connector/memstore"
	"github.com/percona/percona-docbridge/connector/mongostore"
	"github.com/percona/percona-docbridge/connector/sqlstore"
	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
	"github.com/percona/percona-docbridge/metrics"
	"github.com/percona/percona-docbridge/sel"
	"github.com/percona/percona-docbridge/util"
	"github.com/percona/percona-docbridge/validate"
)

// Store names used by operations and transactions.
const (
	SourceStoreName = "source"
	TargetStoreName = "target"
)

// Server is the HTTP front door of the gateway.
type Server struct {
	// Cfg holds the configuration.
	Cfg *config.Config

	bridge  *bridge.Bridge
	sweeper *txn.Sweeper

	maxRequestSize int64

	// promRegistry is the Prometheus registry for metrics.
	promRegistry *prometheus.Registry
}

// createServer connects the stores and wires the bridge.
func createServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	source, err := openSource(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open source store")
	}

	target, err := openTarget(ctx, cfg)
	if err != nil {
		_ = source.Close(ctx)

		return nil, errors.Wrap(err, "open target store")
	}

	srv, err := newServer(ctx, cfg, source, target)
	if err != nil {
		_ = source.Close(ctx)
		_ = target.Close(ctx)

		return nil, err
	}

	return srv, nil
}

func openSource(ctx context.Context, cfg *config.Config) (connector.Store, error) {
	if cfg.Source == "" {
		return memstore.New(SourceStoreName), nil
	}

	s, err := mongostore.Connect(ctx, SourceStoreName, cfg.Source)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	cs, _ := connstring.Parse(cfg.Source)
	log.Ctx(ctx).Infof("Connected to source: %s://%v", cs.Scheme, cs.Hosts)

	return s, nil
}

func openTarget(ctx context.Context, cfg *config.Config) (connector.Store, error) {
	if cfg.TargetDriver == config.DriverMemory {
		return memstore.New(TargetStoreName), nil
	}

	s, err := sqlstore.Open(ctx, TargetStoreName, cfg.TargetDriver, cfg.Target)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	log.Ctx(ctx).Infof("Connected to target: %s", cfg.TargetDriver)

	return s, nil
}

// newServer wires the bridge over already opened stores, starts the
// transaction sweeper and the configured synchronizations.
func newServer(ctx context.Context, cfg *config.Config, source, target connector.Store) (*Server, error) {
	dialect, err := query.DialectByName(cfg.DialectName())
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	promRegistry := prometheus.NewRegistry()
	metrics.Init(promRegistry)

	b, err := bridge.New(bridge.Options{
		Source:        source,
		Target:        target,
		Dialect:       dialect,
		TargetStaging: cfg.Store.TargetStaging,
		CallTimeout:   cfg.Store.CallTimeout,
		Txn: txn.Options{
			ArchiveSize: cfg.Txn.ArchiveSize,
		},
		Sync: repl.Options{
			BatchSize:  cfg.Sync.BatchSize,
			MaxLatency: cfg.Sync.MaxLatency,
			Retry: util.RetryPolicy{
				MaxAttempts:     cfg.Sync.MaxAttempts,
				InitialInterval: cfg.Sync.InitialBackoff,
				MaxInterval:     cfg.Sync.MaxBackoff,
			},
			Hook: repl.MetricsHook,
		},
		NSFilter: sel.MakeFilter(cfg.Sync.Include, cfg.Sync.Exclude),
	})
	if err != nil {
		return nil, errors.Wrap(err, "new bridge")
	}

	sweeper, err := txn.NewSweeper(b.Coordinator(), cfg.Txn.SweepSchedule, cfg.Txn.AbandonAfter)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	sweeper.Start()

	err = b.Sync().Autostart(ctx, cfg.Sync.Collections)
	if err != nil {
		log.New("server").Error(err, "Autostart synchronization")
	}

	s := &Server{
		Cfg:            cfg,
		bridge:         b,
		sweeper:        sweeper,
		maxRequestSize: cfg.Store.MaxRequestSizeBytes(),
		promRegistry:   promRegistry,
	}

	return s, nil
}

// Close stops the sweeper, the synchronization and closes the stores.
func (s *Server) Close(ctx context.Context) error {
	err0 := s.sweeper.Stop(ctx)
	err1 := s.bridge.Close(ctx)

	return errors.Join(err0, err1)
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.HandleStatus)
	mux.HandleFunc("/translate", s.HandleTranslate)
	mux.HandleFunc("/find", s.HandleFind)
	mux.HandleFunc("/write", s.HandleWrite)
	mux.HandleFunc("/txn", s.HandleTxnGet)
	mux.HandleFunc("/txn/begin", s.HandleTxnBegin)
	mux.HandleFunc("/txn/enlist", s.HandleTxnEnlist)
	mux.HandleFunc("/txn/prepare", s.handleTxnPhase(txnPrepare))
	mux.HandleFunc("/txn/commit", s.handleTxnPhase(txnCommit))
	mux.HandleFunc("/txn/rollback", s.handleTxnPhase(txnRollback))
	mux.HandleFunc("/sync/start", s.HandleSyncStart)
	mux.HandleFunc("/sync/stop", s.HandleSyncStop)
	mux.HandleFunc("/sync/deadletters", s.HandleDeadLetters)
	mux.Handle("/metrics", s.HandleMetrics())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			log.New("http").Trace(r.Method + " " + r.URL.String())
		} else {
			log.New("http").Info(r.Method + " " + r.URL.String())
		}
		mux.ServeHTTP(w, r)
	})
}

// HandleStatus handles the /status endpoint.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkRequest(w, r, http.MethodGet) {
		return
	}

	status := s.bridge.Status()

	res := statusResponse{
		Ok:                 true,
		Source:             status.Source,
		Target:             status.Target,
		Dialect:            status.Dialect,
		ActiveTransactions: status.ActiveTransactions,
		DeadLetters:        status.DeadLetters,
		Sync:               make([]syncStatus, 0, len(status.Sync)),
	}

	for _, st := range status.Sync {
		res.Sync = append(res.Sync, newSyncStatus(&st))
	}

	writeResponse(w, http.StatusOK, res)
}

func newSyncStatus(st *repl.Status) syncStatus {
	rv := syncStatus{
		Namespace:     st.Collection,
		Running:       st.IsRunning(),
		EventsRead:    st.EventsRead,
		EventsApplied: st.EventsApplied,
		DeadLettered:  st.DeadLettered,
		BatchesOK:     st.BatchesOK,
		BatchesFailed: st.BatchesFailed,
	}

	if st.Err != nil {
		rv.Err = st.Err.Error()
	}

	if ts := st.LastClusterTime; ts.T != 0 {
		rv.LastClusterTime = &clusterTime{
			TS:      fmt.Sprintf("%d.%d", ts.T, ts.I),
			ISODate: time.Unix(int64(ts.T), 0).UTC().Format(time.RFC3339),
		}

		rv.LagTimeSeconds = max(time.Now().Unix()-int64(ts.T), 0)
	}

	return rv
}

// HandleTranslate handles the /translate endpoint.
func (s *Server) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	var params translateRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	opts, err := params.options()
	if err != nil {
		writeError(w, err)

		return
	}

	plan, err := s.bridge.Translate(params.Collection, opts)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, newTranslateResponse(plan))
}

// HandleFind handles the /find endpoint.
func (s *Server) HandleFind(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ServerResponseTimeout)
	defer cancel()

	var params translateRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	opts, err := params.options()
	if err != nil {
		writeError(w, err)

		return
	}

	plan, docs, err := s.bridge.Find(ctx, params.Collection, opts)
	if err != nil {
		writeError(w, err)

		return
	}

	res := findResponse{
		translateResponse: newTranslateResponse(plan),
		Documents:         docs,
	}

	if res.Documents == nil {
		res.Documents = []connector.Document{}
	}

	writeResponse(w, http.StatusOK, res)
}

// HandleWrite handles the /write endpoint.
func (s *Server) HandleWrite(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ServerResponseTimeout)
	defer cancel()

	var params writeRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	op, err := params.operation()
	if err != nil {
		writeError(w, err)

		return
	}

	err = s.bridge.Write(ctx, op)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, okResponse{Ok: true})
}

// HandleTxnBegin handles the /txn/begin endpoint.
func (s *Server) HandleTxnBegin(w http.ResponseWriter, r *http.Request) {
	if !s.checkRequest(w, r, http.MethodPost) {
		return
	}

	id, err := s.bridge.Coordinator().Begin(r.Context())
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, txnResponse{Ok: true, ID: id})
}

// HandleTxnEnlist handles the /txn/enlist endpoint.
func (s *Server) HandleTxnEnlist(w http.ResponseWriter, r *http.Request) {
	var params enlistRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	op, err := params.Operation.operation()
	if err != nil {
		writeError(w, err)

		return
	}

	err = s.bridge.Coordinator().Enlist(r.Context(), params.ID, op)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, txnResponse{Ok: true, ID: params.ID})
}

type txnPhase int

const (
	txnPrepare txnPhase = iota
	txnCommit
	txnRollback
)

// handleTxnPhase handles the /txn/prepare, /txn/commit and /txn/rollback endpoints.
func (s *Server) handleTxnPhase(phase txnPhase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), ServerResponseTimeout)
		defer cancel()

		var params txnRequest
		if !s.readRequest(w, r, http.MethodPost, &params) {
			return
		}

		coord := s.bridge.Coordinator()

		var err error

		switch phase {
		case txnPrepare:
			err = coord.Prepare(ctx, params.ID)
		case txnCommit:
			err = coord.Commit(ctx, params.ID)
		case txnRollback:
			err = coord.Rollback(ctx, params.ID)
		}

		if err != nil {
			writeError(w, err)

			return
		}

		rec, err := coord.Get(params.ID)
		if err != nil {
			writeError(w, err)

			return
		}

		writeResponse(w, http.StatusOK, txnResponse{Ok: true, ID: params.ID, Transaction: &rec})
	}
}

// HandleTxnGet handles the /txn?id= endpoint.
func (s *Server) HandleTxnGet(w http.ResponseWriter, r *http.Request) {
	if !s.checkRequest(w, r, http.MethodGet) {
		return
	}

	id := r.URL.Query().Get("id")

	err := validate.Var("id", id, "required,uuid")
	if err != nil {
		writeError(w, err)

		return
	}

	rec, err := s.bridge.Coordinator().Get(id)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, txnResponse{Ok: true, ID: id, Transaction: &rec})
}

// HandleSyncStart handles the /sync/start endpoint.
func (s *Server) HandleSyncStart(w http.ResponseWriter, r *http.Request) {
	var params syncRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	err := s.bridge.Sync().Start(r.Context(), params.Namespace)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, okResponse{Ok: true})
}

// HandleSyncStop handles the /sync/stop endpoint.
func (s *Server) HandleSyncStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ServerResponseTimeout)
	defer cancel()

	var params syncRequest
	if !s.readRequest(w, r, http.MethodPost, &params) {
		return
	}

	err := s.bridge.Sync().Stop(ctx, params.Namespace)
	if err != nil {
		writeError(w, err)

		return
	}

	writeResponse(w, http.StatusOK, okResponse{Ok: true})
}

// HandleDeadLetters handles the /sync/deadletters endpoint.
func (s *Server) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if !s.checkRequest(w, r, http.MethodGet) {
		return
	}

	dead := s.bridge.Sync().DeadLetters()
	res := deadLettersResponse{Ok: true, Total: dead.Total()}

	for _, dl := range dead.List() {
		ids := make([]string, len(dl.Events))
		for i, ev := range dl.Events {
			ids[i] = ev.DocumentID
		}

		res.DeadLetters = append(res.DeadLetters, deadLetter{
			Namespace:   dl.Collection,
			DocumentIDs: ids,
			Attempts:    dl.Attempts,
			Err:         dl.Err.Error(),
			At:          dl.At,
		})
	}

	writeResponse(w, http.StatusOK, res)
}

func (s *Server) HandleMetrics() http.Handler {
	return promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})
}

// checkRequest rejects requests with a wrong method or an oversized body.
func (s *Server) checkRequest(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return false
	}

	if r.ContentLength > s.maxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return false
	}

	return true
}

// readRequest checks the request, decodes the JSON body into params and
// validates it. It writes the error response itself.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request, method string, params any) bool {
	if !s.checkRequest(w, r, method) {
		return false
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxRequestSize))
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return false
	}

	if len(data) != 0 {
		err = json.Unmarshal(data, params)
		if err != nil {
			writeResponse(w, http.StatusBadRequest, okResponse{Err: "decode request: " + err.Error()})

			return false
		}
	}

	err = validate.Struct(params)
	if err != nil {
		writeError(w, err)

		return false
	}

	return true
}

// writeResponse writes the response as JSON to the ResponseWriter.
func writeResponse[T any](w http.ResponseWriter, code int, resp T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		log.New("http").Error(err, "Encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeResponse(w, httpStatus(err), okResponse{
		Err:  err.Error(),
		Code: string(errors.CodeOf(err)),
	})
}

// httpStatus maps an error to the status code of its response.
func httpStatus(err error) int {
	var verrs validate.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}

	if query.IsTranslationError(err) {
		return http.StatusBadRequest
	}

	switch errors.CodeOf(err) {
	case txn.TransactionNotFound:
		return http.StatusNotFound
	case txn.InvalidTransactionState, txn.PrepareFailed,
		repl.AlreadyRunning, repl.NotRunning:
		return http.StatusConflict
	case txn.StoreUnavailable:
		return http.StatusServiceUnavailable
	case repl.NamespaceNotAllowed:
		return http.StatusForbidden
	case bridge.UnknownStore, errBadRequest:
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	return http.StatusInternalServerError
}
