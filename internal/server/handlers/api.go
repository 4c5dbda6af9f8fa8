package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/streamrec/internal/activity"
	ferrors "git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/health"
	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/reconcile"
	"git.home.luguber.info/inful/streamrec/internal/schedule"
	"git.home.luguber.info/inful/streamrec/internal/scheduler"
	"git.home.luguber.info/inful/streamrec/internal/server/responses"
	"git.home.luguber.info/inful/streamrec/internal/state"
	"git.home.luguber.info/inful/streamrec/internal/supervisor"
)

// InitiatorHeader marks requests coming from the operator UI.
const InitiatorHeader = "X-Initiator"

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
	transitionHorizon    = 8 * 24 * time.Hour
)

// Recorder is the supervisor surface served over HTTP.
type Recorder interface {
	Start(ctx context.Context, req supervisor.StartRequest) (supervisor.Result, error)
	Stop(ctx context.Context, initiator state.Initiator) (supervisor.Result, error)
	IsActive() bool
	CurrentSession() (*state.Session, bool)
	Health(ctx context.Context) health.Record
	SchedulerState() state.SchedulerState
}

// Reconciler runs an orphan reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

// Ticker runs one control loop tick.
type Ticker interface {
	Run(ctx context.Context) scheduler.Decision
}

// RuleSet exposes the loaded schedule rules.
type RuleSet interface {
	Rules() []schedule.Rule
	LoadedAt() time.Time
}

// ActivityReader queries stored activity.
type ActivityReader interface {
	Recent(ctx context.Context, limit int, action string) ([]activity.Entry, error)
}

// ChangeSource yields the current change stamp.
type ChangeSource interface {
	Change() int64
}

// Deps are the collaborators of the API handlers. Activity and Feed may be nil.
type Deps struct {
	Recorder   Recorder
	Reconciler Reconciler
	Ticker     Ticker
	Rules      RuleSet
	Activity   ActivityReader
	Changes    ChangeSource
	Feed       ChangeFeed
	Clock      clockwork.Clock
}

// APIHandlers contains the control API handlers.
type APIHandlers struct {
	deps         Deps
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(deps Deps, adapter *ferrors.HTTPErrorAdapter) *APIHandlers {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if adapter == nil {
		adapter = ferrors.NewHTTPErrorAdapter(slog.Default())
	}
	return &APIHandlers{deps: deps, errorAdapter: adapter}
}

// initiatorFor maps a request to the control source it represents.
func initiatorFor(r *http.Request) state.Initiator {
	if r.Header.Get(InitiatorHeader) == string(state.InitiatorManual) {
		return state.InitiatorManual
	}
	return state.InitiatorAPI
}

// HandleStart handles POST /api/v1/recording/start.
func (h *APIHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var body responses.StartRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid request body").Build())
			return
		}
	}

	req := supervisor.StartRequest{
		StreamURL:  body.URL,
		Initiator:  initiatorFor(r),
		ScheduleID: state.ID(body.ScheduleID),
	}
	res, err := h.deps.Recorder.Start(r.Context(), req)
	h.writeResult(w, r, res, err)
}

// HandleStop handles POST /api/v1/recording/stop. Stopping an idle recorder is
// a successful no-op.
func (h *APIHandlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Recorder.Stop(r.Context(), initiatorFor(r))
	h.writeResult(w, r, res, err)
}

// HandleRecording handles GET /api/v1/recording.
func (h *APIHandlers) HandleRecording(w http.ResponseWriter, r *http.Request) {
	resp := responses.RecordingResponse{}
	if sess, ok := h.deps.Recorder.CurrentSession(); ok {
		resp.Active = true
		resp.Session = sess
		resp.ElapsedSeconds = h.deps.Clock.Since(sess.StartedAt).Seconds()
	}
	h.write(w, r, http.StatusOK, resp)
}

// HandleHealth handles GET /api/v1/health.
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusOK, h.deps.Recorder.Health(r.Context()))
}

// HandleReconcile handles POST /api/v1/reconcile.
func (h *APIHandlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reconciler == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.DaemonError("reconciler not configured").Build())
		return
	}
	report, err := h.deps.Reconciler.Reconcile(r.Context())
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	h.write(w, r, http.StatusOK, report)
}

// HandleTick handles POST /api/v1/scheduler/tick. A failed tick is still a 200
// with decision "error".
func (h *APIHandlers) HandleTick(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ticker == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.DaemonError("scheduler is disabled").Build())
		return
	}
	h.write(w, r, http.StatusOK, h.deps.Ticker.Run(r.Context()))
}

// HandleScheduler handles GET /api/v1/scheduler.
func (h *APIHandlers) HandleScheduler(w http.ResponseWriter, r *http.Request) {
	resp := responses.SchedulerResponse{State: h.deps.Recorder.SchedulerState()}
	if h.deps.Rules != nil {
		rules := h.deps.Rules.Rules()
		now := h.deps.Clock.Now()
		resp.Rules = len(rules)
		resp.RulesLoadedAt = h.deps.Rules.LoadedAt()
		if rule, ok := schedule.ActiveRule(rules, now); ok {
			resp.ActiveRule = &rule
		}
		if next, ok := schedule.NextTransition(rules, now, transitionHorizon); ok {
			resp.NextTransition = &next
		}
	}
	h.write(w, r, http.StatusOK, resp)
}

// HandleActivity handles GET /api/v1/activity?limit=&action=.
func (h *APIHandlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Activity == nil {
		h.write(w, r, http.StatusOK, responses.ActivityResponse{Entries: []activity.Entry{}})
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.errorAdapter.WriteErrorResponse(w, r, ferrors.ValidationError("limit must be a positive integer").
				WithContext("limit", raw).
				Build())
			return
		}
		limit = min(n, maxActivityLimit)
	}

	entries, err := h.deps.Activity.Recent(r.Context(), limit, r.URL.Query().Get("action"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	h.write(w, r, http.StatusOK, responses.ActivityResponse{Entries: entries})
}

// HandleChange handles GET /api/v1/change.
func (h *APIHandlers) HandleChange(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusOK, responses.ChangeResponse{Change: h.deps.Changes.Change()})
}

// writeResult sends a control result with the status code of its error. A
// failure without a result body falls back to the standard error response.
func (h *APIHandlers) writeResult(w http.ResponseWriter, r *http.Request, res supervisor.Result, err error) {
	if err != nil && res.Status == "" {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	if err != nil {
		slog.WarnContext(r.Context(), "Control action failed",
			slog.String("status", string(res.Status)), logfields.Error(err))
	}
	h.write(w, r, h.errorAdapter.StatusCodeFor(err), res)
}

func (h *APIHandlers) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSONPretty(w, r, status, v); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			ferrors.WrapError(err, ferrors.CategoryInternal, "failed to write response").Build())
	}
}
