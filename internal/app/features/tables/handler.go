// internal/app/features/tables/handler.go
package tables

import (
	"io"
	"net/http"
	"time"

	uierrors "github.com/dalemusser/opsdesk/internal/app/features/errors"
	"github.com/dalemusser/opsdesk/internal/app/system/auth"
	"github.com/dalemusser/opsdesk/internal/app/system/authz"
	"github.com/dalemusser/opsdesk/internal/app/system/desk"
	"github.com/dalemusser/opsdesk/internal/app/system/gates"
	"github.com/dalemusser/opsdesk/internal/app/system/mutation"
	"github.com/dalemusser/opsdesk/internal/app/system/session"
	"github.com/dalemusser/opsdesk/internal/app/system/sse"
	"github.com/dalemusser/opsdesk/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxRecordBody = 64 << 10

// Handler serves the record collections of the caller's desk client.
type Handler struct {
	Log       *zap.Logger
	Heartbeat time.Duration
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{Log: logger, Heartbeat: sse.DefaultHeartbeat}
}

// tableView is one collection as the UI renders it.
type tableView struct {
	desk.View
	CanEdit bool `json:"can_edit"`
}

// denied ends a view stream whose session lost access.
type denied struct {
	Decision string `json:"decision"`
	Redirect string `json:"redirect"`
}

func (h *Handler) table(w http.ResponseWriter, r *http.Request) (*desk.Client, desk.Table, bool) {
	c, ok := auth.ClientFrom(r)
	if !ok {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, "no session")
		return nil, nil, false
	}
	tbl, ok := c.Table(chi.URLParam(r, "collection"))
	if !ok {
		uierrors.Write(w, http.StatusNotFound, uierrors.CodeNotFound, "unknown collection")
		return nil, nil, false
	}
	return c, tbl, true
}

// ServeList handles GET /c/{collection}. A collection nobody is watching
// is fetched once; a watched one answers from its live projection.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	c, tbl, ok := h.table(w, r)
	if !ok {
		return
	}
	if !tbl.Active() {
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Query(), h.Log, "load "+tbl.Name())
		err := tbl.Load(ctx)
		cancel()
		if err != nil {
			uierrors.FromError(w, r, h.Log, err)
			return
		}
	}
	uierrors.WriteJSON(w, http.StatusOK, tableView{View: tbl.View(), CanEdit: authz.CanEdit(c.Session().Get())})
}

// ServeEvents handles GET /c/{collection}/events. The stream holds an
// activation, so the change feed runs for as long as someone watches.
// Every projection or feed-state change sends a "view" event. When the
// session stops satisfying the read requirement the stream sends
// "denied" with the redirect target and ends.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	c, tbl, ok := h.table(w, r)
	if !ok {
		return
	}
	store := c.Session()

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Query(), h.Log, "activate "+tbl.Name())
	release, err := tbl.Activate(ctx)
	cancel()
	if err != nil {
		uierrors.FromError(w, r, h.Log, err)
		return
	}
	defer release()

	sig := sse.NewSignal()
	unsubTable := tbl.Subscribe(sig.Notify)
	defer unsubTable()
	unsubSession := store.Subscribe(func(session.Session) { sig.Notify() })
	defer unsubSession()

	stream, err := sse.Open(w)
	if err != nil {
		uierrors.Write(w, http.StatusInternalServerError, uierrors.CodeInternal, err.Error())
		return
	}
	sig.Notify()

	tick := time.NewTicker(h.Heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sig.C():
			s := store.Get()
			if s.Status == session.StatusAuthenticating {
				// The next snapshot decides.
				continue
			}
			if d := authz.Authorize(s, authz.ReadRecords); d != authz.Allow {
				_ = stream.Event("denied", denied{Decision: d.String(), Redirect: gates.Target(r, d)})
				h.Log.Debug("view stream ended by authorization",
					zap.String("client", c.ID()),
					zap.String("collection", tbl.Name()),
					zap.Stringer("decision", d))
				return
			}
			if err := stream.Event("view", tableView{View: tbl.View(), CanEdit: authz.CanEdit(s)}); err != nil {
				return
			}
		case <-tick.C:
			if err := stream.Comment("keepalive"); err != nil {
				return
			}
		}
	}
}

// HandleCreate handles POST /c/{collection}.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, mutation.OpAdd, "")
}

// HandleUpdate handles PUT /c/{collection}/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, mutation.OpUpdate, chi.URLParam(r, "id"))
}

// HandleDelete handles DELETE /c/{collection}/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, mutation.OpDelete, chi.URLParam(r, "id"))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, op mutation.Op, id string) {
	c, tbl, ok := h.table(w, r)
	if !ok {
		return
	}

	var body []byte
	if op != mutation.OpDelete {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBody))
		if err != nil {
			uierrors.Write(w, http.StatusRequestEntityTooLarge, uierrors.CodeBadRequest, "Record is too large.")
			return
		}
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Write(), h.Log, op.String()+" "+tbl.Name())
	defer cancel()

	rec, err := tbl.Submit(ctx, op, id, body)
	if err != nil {
		h.Log.Info("mutation rejected",
			zap.String("collection", tbl.Name()),
			zap.Stringer("op", op),
			zap.String("user_id", c.Session().Get().UserID()),
			zap.Error(err))
		uierrors.FromError(w, r, h.Log, err)
		return
	}

	h.Log.Info("mutation applied",
		zap.String("collection", tbl.Name()),
		zap.Stringer("op", op),
		zap.String("id", id),
		zap.String("user_id", c.Session().Get().UserID()))

	switch op {
	case mutation.OpAdd:
		uierrors.WriteJSON(w, http.StatusCreated, rec)
	case mutation.OpDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		uierrors.WriteJSON(w, http.StatusOK, rec)
	}
}
