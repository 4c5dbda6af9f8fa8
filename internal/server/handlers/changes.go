package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/streamrec/internal/foundation/errors"
	"git.home.luguber.info/inful/streamrec/internal/notify"
)

const changeHeartbeat = 30 * time.Second

// ChangeFeed is the live stream of change events. *notify.Notifier implements it.
type ChangeFeed interface {
	Subscribe() (<-chan notify.ChangeEvent, func())
	Last() notify.ChangeEvent
}

// HandleChanges streams change events as server-sent events. The latest event
// is sent on connect, then every newer one as it happens.
func (h *APIHandlers) HandleChanges(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feed == nil {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.DaemonError("change feed is not available").Build())
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout must not cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.DebugContext(r.Context(), "change stream deadline", "error", err)
	}

	events, cancel := h.deps.Feed.Subscribe()
	defer cancel()
	last := h.deps.Feed.Last()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	flush := func() bool {
		if err := bw.Flush(); err != nil {
			slog.Debug("change stream write", "error", err)
			return false
		}
		if err := rc.Flush(); err != nil {
			slog.Debug("change stream flush", "error", err)
			return false
		}
		return true
	}

	if _, err := bw.WriteString(": connected\n\n"); err != nil {
		slog.Debug("change stream write", "error", err)
		return
	}
	if last.Change != 0 {
		if err := writeChangeEvent(bw, last); err != nil {
			slog.Debug("change stream write", "error", err)
			return
		}
	}
	if !flush() {
		return
	}

	hb := time.NewTicker(changeHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			if _, err := bw.WriteString(": ping\n\n"); err != nil || !flush() {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			// Skip stamps the client already has, including the one sent on connect.
			if ev.Change <= last.Change {
				continue
			}
			last = ev
			if err := writeChangeEvent(bw, ev); err != nil || !flush() {
				return
			}
		}
	}
}

func writeChangeEvent(w *bufio.Writer, ev notify.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: change\nid: %d\ndata: %s\n\n", ev.Change, data)
	return err
}
