// Package handlers serves the reconciliation API over the merged store.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"berthing-hub/api/internal/views"
	"berthing-hub/core/identity"
	"berthing-hub/core/ingest"
	"berthing-hub/core/kpi"
	"berthing-hub/core/merge"
	"berthing-hub/core/model"
	"berthing-hub/core/source"
	"berthing-hub/core/window"
	"berthing-hub/shared/cachex"
	"berthing-hub/shared/httpx"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/workflow"
)

const defaultIngestBody int64 = 32 << 20

// Acker records conflict acknowledgements. *cachex.Client satisfies it;
// MemoryAcks is the fallback when Redis is not configured.
type Acker interface {
	views.Acks
	Acknowledge(ctx context.Context, conflictID string) error
}

// LatestReader reads the worker's cached snapshot.
type LatestReader interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// History is the persisted KPI snapshot trail, read when the cache is cold.
type History interface {
	Latest(ctx context.Context) (model.KPISnapshot, bool, error)
}

type API struct {
	Store          merge.Store
	Pipeline       *ingest.Pipeline
	Acks           Acker
	Latest         LatestReader
	History        History
	Memo           *cachex.Memo
	Logger         logx.Logger
	Settings       views.Settings
	NameDistance   int
	// MaxIngestBytes bounds POST /api/v1/ingest bodies; zero means 32 MiB.
	MaxIngestBytes int64
	Now            func() time.Time
}

func (a *API) maxIngestBytes() int64 {
	if a.MaxIngestBytes > 0 {
		return a.MaxIngestBytes
	}
	return defaultIngestBody
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/ingest", a.ingest)
	mux.HandleFunc("GET /api/v1/port-calls", a.listPortCalls)
	mux.HandleFunc("GET /api/v1/port-calls/{id}", a.getPortCall)
	mux.HandleFunc("GET /api/v1/conflicts", a.listConflicts)
	mux.HandleFunc("POST /api/v1/conflicts/{id}/resolve", a.resolveConflict)
	mux.HandleFunc("GET /api/v1/kpis", a.kpis)
	mux.HandleFunc("GET /api/v1/kpis/latest", a.latestKPIs)
	mux.HandleFunc("GET /api/v1/operations/current", a.currentOperations)
	mux.HandleFunc("GET /api/v1/berths/timeline", a.timeline)
	mux.HandleFunc("GET /api/v1/vessels/near-duplicates", a.nearDuplicates)
}

type ingestRequest struct {
	Batches []source.Batch `json:"batches"`
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := httpx.ReadJSON(r, a.maxIngestBytes(), &req); err != nil {
		httpx.WriteErr(w, r, err)
		return
	}
	if len(req.Batches) == 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "batches must not be empty", nil)
		return
	}
	rep, err := a.Pipeline.Run(r.Context(), req.Batches)
	if err != nil {
		if errors.Is(err, source.ErrUnknownSource) {
			httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error(), nil)
			return
		}
		a.fail(w, r, "ingest_failed", err)
		return
	}
	if rep.Created > 0 || rep.Changed > 0 {
		a.Memo.Invalidate()
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

func (a *API) snapshot(ctx context.Context) ([]model.PortCall, error) {
	v, err := a.Memo.GetOrCompute("snapshot", func() (any, error) {
		return a.Store.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	// callers sort and filter; never hand out the cached slice itself
	calls := v.([]model.PortCall)
	out := make([]model.PortCall, len(calls))
	copy(out, calls)
	return out, nil
}

func (a *API) listPortCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := a.snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "snapshot_failed", err)
		return
	}
	q := r.URL.Query()
	terminal := identity.NormalizeLocation(q.Get("terminal"))
	berth := identity.NormalizeLocation(q.Get("berth"))
	status := model.Status(workflow.NormalizeStatus(q.Get("status")))
	if status != "" && !workflow.IsKnownStatus(string(status)) {
		httpx.WriteErr(w, r, httpx.InvalidArgument("unknown status filter", map[string]any{
			"status": q.Get("status"), "allowed": workflow.AllStatuses(),
		}))
		return
	}

	out := make([]model.PortCall, 0, len(calls))
	for _, pc := range calls {
		if terminal != "" && identity.NormalizeLocation(pc.Terminal) != terminal {
			continue
		}
		if berth != "" && identity.NormalizeLocation(pc.BerthID) != berth {
			continue
		}
		if status != "" && pc.Status != status {
			continue
		}
		out = append(out, pc)
	}
	views.SortForBoard(out)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"port_calls": out, "count": len(out)})
}

func (a *API) getPortCall(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	pc, ok, err := a.Store.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, "port_call_get_failed", err)
		return
	}
	if !ok {
		httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, "port call not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pc)
}

func (a *API) conflicts(ctx context.Context) ([]model.Conflict, error) {
	calls, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return views.Conflicts(ctx, calls, a.Acks)
}

func (a *API) listConflicts(w http.ResponseWriter, r *http.Request) {
	all, err := a.conflicts(r.Context())
	if err != nil {
		a.fail(w, r, "conflicts_failed", err)
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"
	out := make([]model.Conflict, 0, len(all))
	for _, c := range all {
		if openOnly && c.Resolved {
			continue
		}
		out = append(out, c)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"conflicts": out, "count": len(out)})
}

func (a *API) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	all, err := a.conflicts(r.Context())
	if err != nil {
		a.fail(w, r, "conflicts_failed", err)
		return
	}
	for _, c := range all {
		if c.ConflictID != id {
			continue
		}
		if err := a.Acks.Acknowledge(r.Context(), id); err != nil {
			a.fail(w, r, "conflict_ack_failed", err)
			return
		}
		c.Resolved = true
		a.Logger.Info(r.Context(), "conflict_resolved", "conflict acknowledged",
			slog.String("conflict_id", id),
			slog.String("berth_id", c.BerthID),
		)
		httpx.WriteJSON(w, http.StatusOK, c)
		return
	}
	httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, "conflict not found", nil)
}

func (a *API) kpis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, err := kpi.ParseRef(strings.TrimSpace(q.Get("ref")))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, err.Error(), nil)
		return
	}
	var win kpi.Window
	if win.Start, err = parseInstant(q.Get("start")); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "invalid start", nil)
		return
	}
	if win.End, err = parseInstant(q.Get("end")); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "invalid end", nil)
		return
	}
	if !win.Start.IsZero() && !win.End.IsZero() && !win.End.After(win.Start) {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "end must be after start", nil)
		return
	}
	calls, err := a.snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "snapshot_failed", err)
		return
	}
	now := a.now()
	httpx.WriteJSON(w, http.StatusOK, kpi.Compute(calls, a.Settings.KPIOptions(win, ref, now), now))
}

func (a *API) latestKPIs(w http.ResponseWriter, r *http.Request) {
	if a.Latest == nil && a.History == nil {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition, "snapshot cache not configured", nil)
		return
	}
	if a.Latest != nil {
		var snap views.Snapshot
		ok, err := a.Latest.GetJSON(r.Context(), cachex.KeyKPILatest, &snap)
		if err != nil {
			a.fail(w, r, "cache_read_failed", err)
			return
		}
		if ok {
			httpx.WriteJSON(w, http.StatusOK, snap.KPI)
			return
		}
	}
	if a.History != nil {
		snap, ok, err := a.History.Latest(r.Context())
		if err != nil {
			a.fail(w, r, "kpi_history_failed", err)
			return
		}
		if ok {
			httpx.WriteJSON(w, http.StatusOK, snap)
			return
		}
	}
	httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, "no snapshot computed yet", nil)
}

func (a *API) currentOperations(w http.ResponseWriter, r *http.Request) {
	now, err := parseInstant(r.URL.Query().Get("now"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "invalid now", nil)
		return
	}
	if now.IsZero() {
		now = a.now()
	}
	calls, err := a.snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "snapshot_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, window.Classify(now, calls, a.Settings.OpsHorizon))
}

func (a *API) timeline(w http.ResponseWriter, r *http.Request) {
	calls, err := a.snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "snapshot_failed", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"terminals": window.Timeline(calls)})
}

func (a *API) nearDuplicates(w http.ResponseWriter, r *http.Request) {
	distance := a.NameDistance
	if raw := strings.TrimSpace(r.URL.Query().Get("distance")); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 || d > 10 {
			httpx.WriteError(w, r, http.StatusBadRequest, httpx.CodeInvalidArgument, "distance must be 0-10", nil)
			return
		}
		distance = d
	}
	calls, err := a.snapshot(r.Context())
	if err != nil {
		a.fail(w, r, "snapshot_failed", err)
		return
	}
	names := make([]string, 0, len(calls))
	for _, pc := range calls {
		names = append(names, pc.VesselName)
	}
	pairs := identity.NearDuplicates(names, distance)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"pairs": pairs, "distance": distance})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	a.Logger.Error(r.Context(), event, "request failed",
		slog.String("error_code", httpx.CodeInternal),
		slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	httpx.WriteErr(w, r, err)
}

// parseInstant accepts RFC 3339 or a bare date (UTC midnight). Empty input
// is the zero time.
func parseInstant(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

// MemoryAcks keeps acknowledgements in process.
type MemoryAcks struct {
	mu  sync.Mutex
	ids map[string]bool
}

func NewMemoryAcks() *MemoryAcks { return &MemoryAcks{ids: map[string]bool{}} }

func (m *MemoryAcks) Acknowledge(_ context.Context, id string) error {
	m.mu.Lock()
	m.ids[id] = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryAcks) Acknowledged(context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.ids))
	for id := range m.ids {
		out[id] = true
	}
	return out, nil
}
