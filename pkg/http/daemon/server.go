package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/weaveworks/common/middleware"

	"github.com/fluxcd/conveyor/pkg/api"
	transport "github.com/fluxcd/conveyor/pkg/http"
	fluxmetrics "github.com/fluxcd/conveyor/pkg/metrics"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

const maxBodySize = 1 << 20

var (
	requestDuration = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute, "status_code", "ws"})
	requestBodySize = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Name:      "request_message_bytes",
		Help:      "Size (in bytes) of messages received in the request.",
		Buckets:   stdprometheus.ExponentialBuckets(64, 4, 8),
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute})
	responseBodySize = stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "conveyor",
		Name:      "response_message_bytes",
		Help:      "Size (in bytes) of messages sent in response.",
		Buckets:   stdprometheus.ExponentialBuckets(64, 4, 8),
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute})
	inflightRequests = stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: "conveyor",
		Name:      "inflight_requests",
		Help:      "Current number of inflight requests.",
	}, []string{fluxmetrics.LabelMethod, fluxmetrics.LabelRoute})
)

func init() {
	stdprometheus.MustRegister(requestDuration, requestBodySize, responseBodySize, inflightRequests)
}

// Auth says how requests are authenticated. Source change events are
// signed with WebhookSecret; everything else but pings must carry
// Token. Either left empty turns that check off.
type Auth struct {
	WebhookSecret string
	Token         string
	// MaxSkew is how far the timestamp of a signed request may be
	// from the daemon's clock.
	MaxSkew time.Duration
}

// An API server for the daemon
func NewRouter() *mux.Router {
	r := transport.NewAPIRouter()

	// We assume every request that doesn't match a route is a client
	// calling an old or hitherto unsupported API.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, r, http.StatusNotFound, transport.MakeAPINotFound(r.URL.Path))
	})

	return r
}

func NewHandler(s api.Server, r *mux.Router, auth Auth, logger log.Logger) http.Handler {
	if auth.MaxSkew == 0 {
		auth.MaxSkew = transport.DefaultMaxSkew
	}
	handle := HTTPServer{server: s, auth: auth, logger: logger, now: time.Now}

	r.Get(transport.Ping).HandlerFunc(handle.Ping)
	r.Get(transport.Version).HandlerFunc(handle.withToken(handle.Version))
	r.Get(transport.Webhook).HandlerFunc(handle.Webhook)

	r.Get(transport.ListServices).HandlerFunc(handle.withToken(handle.ListServices))
	r.Get(transport.ListRuns).HandlerFunc(handle.withToken(handle.ListRuns))
	r.Get(transport.RunStatus).HandlerFunc(handle.withToken(handle.RunStatus))
	r.Get(transport.RunEvents).HandlerFunc(handle.withToken(handle.RunEvents))
	r.Get(transport.Promote).HandlerFunc(handle.withToken(handle.Promote))
	r.Get(transport.Abort).HandlerFunc(handle.withToken(handle.Abort))

	return middleware.Instrument{
		RouteMatcher:     r,
		Duration:         requestDuration,
		RequestBodySize:  requestBodySize,
		ResponseBodySize: responseBodySize,
		InflightRequests: inflightRequests,
	}.Wrap(r)
}

type HTTPServer struct {
	server api.Server
	auth   Auth
	logger log.Logger
	now    func() time.Time
}

func (s HTTPServer) withToken(h http.HandlerFunc) http.HandlerFunc {
	if s.auth.Token == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.auth.Token)) != 1 {
			transport.WriteError(w, r, http.StatusUnauthorized, transport.ErrorUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s HTTPServer) Ping(w http.ResponseWriter, r *http.Request) {
	if err := s.server.Ping(r.Context()); err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s HTTPServer) Version(w http.ResponseWriter, r *http.Request) {
	version, err := s.server.Version(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, version)
}

func (s HTTPServer) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, errors.Wrap(err, "reading body"))
		return
	}
	if s.auth.WebhookSecret != "" {
		if err := transport.VerifyRequest(r, s.auth.WebhookSecret, body, s.now(), s.auth.MaxSkew); err != nil {
			s.logger.Log("webhook", "rejected", "remote", r.RemoteAddr, "err", err)
			transport.WriteError(w, r, http.StatusUnauthorized, transport.ErrorBadSignature)
			return
		}
	}

	var event pipeline.Event
	if err := json.Unmarshal(body, &event); err != nil {
		transport.WriteError(w, r, http.StatusBadRequest, errors.Wrap(err, "decoding event"))
		return
	}
	result, err := s.server.NotifyChange(r.Context(), event)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusAccepted, result)
}

func (s HTTPServer) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.server.ListServices(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, services)
}

func (s HTTPServer) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.server.ListRuns(r.Context())
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, runs)
}

func (s HTTPServer) RunStatus(w http.ResponseWriter, r *http.Request) {
	id := pipeline.RunID(mux.Vars(r)["id"])
	run, err := s.server.RunStatus(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, run)
}

func (s HTTPServer) RunEvents(w http.ResponseWriter, r *http.Request) {
	id := pipeline.RunID(mux.Vars(r)["id"])
	events, err := s.server.RunEvents(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponse(w, r, events)
}

func (s HTTPServer) Promote(w http.ResponseWriter, r *http.Request) {
	id := pipeline.RunID(mux.Vars(r)["id"])
	var opts api.PromoteOptions
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&opts); err != nil && err != io.EOF {
		transport.WriteError(w, r, http.StatusBadRequest, errors.Wrap(err, "decoding promotion"))
		return
	}
	run, err := s.server.Promote(r.Context(), id, opts)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusAccepted, run)
}

func (s HTTPServer) Abort(w http.ResponseWriter, r *http.Request) {
	id := pipeline.RunID(mux.Vars(r)["id"])
	run, err := s.server.Abort(r.Context(), id)
	if err != nil {
		transport.ErrorResponse(w, r, err)
		return
	}
	transport.JSONResponseWithStatus(w, r, http.StatusAccepted, run)
}
