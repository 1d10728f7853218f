package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSE event names on /v1/reports/changes.
const (
	EventChange = "change"
	EventError  = "error"
)

// handleChanges streams committed changes as server-sent events. Citizens
// receive rows they reported and every delete, since a delete carries no
// row to filter on. The stream ends with an error event when the
// subscription drops.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, &APIError{Code: CodeInternal, Message: "streaming unsupported"})
		return
	}
	u := caller(r)

	sub, err := s.reports.Subscribe(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.Events():
			if !ok {
				msg := "change stream closed"
				if err := sub.Err(); err != nil {
					msg = err.Error()
				}
				s.logger.Warn("change stream ended", "user_id", u.ID, "reason", msg)
				_ = writeEvent(w, "", EventError, APIError{Code: CodeSubscriptionLost, Message: msg})
				flusher.Flush()
				return
			}
			if !u.IsEmployee() && evt.Row != nil && evt.Row.ReporterID != u.ID {
				continue
			}
			if err := writeEvent(w, evt.ID, EventChange, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, id, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

