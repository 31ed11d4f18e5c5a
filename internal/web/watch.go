package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleWatch streams the job as JSON on every committed status change and
// closes the socket once the job is terminal. Events only carry the status,
// so every message is a fresh read of the store.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// subscribe before the first read so no transition is missed
	events, stop := s.jobs.Subscribe(id)
	defer stop()

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade_failed", "job_id", id, "err", err)
		return
	}
	defer conn.Close()
	s.logger.Info("ws.watch_started", "job_id", id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(j *entity.ProcessingJob) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(j); err != nil {
			s.logger.Warn("ws.write_failed", "job_id", id, "err", err)
			return false
		}
		if j.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(j.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return false
		}
		return true
	}
	if !send(job) {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			s.logger.Info("ws.client_closed", "job_id", id)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case _, ok := <-events:
			if !ok {
				return
			}
			j, err := s.jobs.Get(r.Context(), id)
			if err != nil {
				s.logger.Warn("ws.reload_failed", "job_id", id, "err", err)
				return
			}
			if !send(j) {
				return
			}
		}
	}
}
