package api

import (
	"net/http"
	"sync"

	"github.com/ignite/campaign-journeys/internal/pkg/httputil"
	"github.com/ignite/campaign-journeys/internal/pkg/logger"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
)

// analysisEventBuffer bounds how far a slow listener may fall behind before
// progress events are dropped.
const analysisEventBuffer = 32

// AnalyzeProject handles POST /api/projects/{projectID}/analyze
//
// The response is a text/event-stream of queued, progress, complete and
// error events. A listener that disconnects stops receiving events; the
// analysis itself keeps running to completion.
func (h *Handlers) AnalyzeProject(w http.ResponseWriter, r *http.Request) {
	projectID := pathParam(r, "projectID")
	if _, err := h.projects.GetProject(r.Context(), projectID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		httputil.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan analysis.Event, analysisEventBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sink := func(ev analysis.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- ev:
		default:
			// Listener is behind; the final event is recovered from the result.
		}
	}
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
	}()

	done, err := h.queue.Enqueue(projectID, sink)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	stream, _ := httputil.NewSSE(w)
	defer stream.Close()

	send := func(ev analysis.Event) bool {
		if err := stream.Send(string(ev.Type), ev); err != nil {
			logger.Debug("analysis stream write failed", "project_id", projectID, "error", err)
			return false
		}
		return true
	}
	terminal := func(ev analysis.Event) bool {
		return ev.Type == analysis.EventComplete || ev.Type == analysis.EventError
	}

	for {
		select {
		case ev := <-events:
			if !send(ev) || terminal(ev) {
				return
			}
		case res := <-done:
			// Flush anything buffered, then make sure a final event goes out.
			for {
				select {
				case ev := <-events:
					if !send(ev) || terminal(ev) {
						return
					}
					continue
				default:
				}
				break
			}
			final := analysis.Event{Type: analysis.EventComplete, ProjectID: projectID, Stats: res.Stats}
			if res.Err != nil {
				final = analysis.Event{Type: analysis.EventError, ProjectID: projectID, Error: analysis.PublicMessage(res.Err)}
			}
			send(final)
			return
		case <-r.Context().Done():
			logger.Info("analysis listener disconnected", "project_id", projectID)
			return
		}
	}
}

// GetQueueStatus handles GET /api/analysis/queue
func (h *Handlers) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.queue.Status())
}
