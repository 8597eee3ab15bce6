package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/brokerlink/internal/journal"
	"github.com/nerrad567/brokerlink/internal/session"
)

// healthCheckTimeout bounds the backing-service checks run by /health.
const healthCheckTimeout = 3 * time.Second

// statusResponse is the body of GET /status.
type statusResponse struct {
	Active        bool     `json:"active"`
	State         string   `json:"state"`
	Endpoint      string   `json:"endpoint,omitempty"`
	EndpointIndex int      `json:"endpoint_index"`
	Fallbacks     int      `json:"fallbacks"`
	MaxFallbacks  int      `json:"max_fallbacks"`
	Subscriptions []string `json:"subscriptions"`
}

// endpointView is an endpoint as exposed over the API. Credentials are
// never included.
type endpointView struct {
	Index                int    `json:"index"`
	Address              string `json:"address"`
	TLS                  bool   `json:"tls"`
	ClientID             string `json:"client_id,omitempty"`
	MaxConnectionRetries int    `json:"max_connection_retries"`
	RetryDelayMS         int64  `json:"retry_delay_ms"`
	Current              bool   `json:"current"`
}

// eventView is a lifecycle event as pushed to WebSocket clients.
type eventView struct {
	Endpoint string `json:"endpoint,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	DelayMS  int64  `json:"delay_ms,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Error    string `json:"error,omitempty"`
	Time     string `json:"time"`
}

func newEventView(ev session.Event) eventView {
	v := eventView{
		Endpoint: ev.Endpoint,
		Attempt:  ev.Attempt,
		DelayMS:  ev.Delay.Milliseconds(),
		Topic:    ev.Topic,
		Time:     ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	return v
}

// publishRequest is the body of POST /publish.
type publishRequest struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// handleHealth reports the session and backing services. It answers 503
// when the session is not connected or a backing service is unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	st := s.supervisor.Status()
	checks := map[string]string{}
	healthy := true

	if err := s.supervisor.HealthCheck(ctx); err != nil {
		checks["session"] = err.Error()
		healthy = false
	} else {
		checks["session"] = "ok"
	}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"state":    st.State.String(),
		"endpoint": st.Endpoint,
		"checks":   checks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.supervisor.Status()
	subs := st.Subscriptions
	if subs == nil {
		subs = []string{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Active:        st.Active,
		State:         st.State.String(),
		Endpoint:      st.Endpoint,
		EndpointIndex: st.EndpointIndex,
		Fallbacks:     st.Fallbacks,
		MaxFallbacks:  st.MaxFallbacks,
		Subscriptions: subs,
	})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	current := s.supervisor.Status().EndpointIndex
	eps := s.supervisor.Endpoints()

	views := make([]endpointView, 0, len(eps))
	for i, ep := range eps {
		views = append(views, endpointView{
			Index:                i,
			Address:              ep.Address(),
			TLS:                  ep.TLS,
			ClientID:             ep.ClientID,
			MaxConnectionRetries: ep.MaxConnectionRetries,
			RetryDelayMS:         ep.RetryDelay.Milliseconds(),
			Current:              i == current,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": views,
		"count":     len(views),
	})
}

// handleListEvents returns journal entries, newest first.
//
// Query parameters: session_id, type, endpoint, since (RFC 3339), limit.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "lifecycle journal is not enabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		SessionID: q.Get("session_id"),
		Endpoint:  q.Get("endpoint"),
	}

	if typ := q.Get("type"); typ != "" {
		if _, ok := session.ParseEventType(typ); !ok {
			writeBadRequest(w, "unknown event type: "+typ)
			return
		}
		filter.Type = typ
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing lifecycle events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("connect requested via API", "subject", subjectFrom(r.Context()))
	s.supervisor.Connect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("disconnect requested via API", "subject", subjectFrom(r.Context()))
	s.supervisor.Disconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "disconnecting"})
}

// handlePublish queues a publish on the managed session. Delivery is
// asynchronous; failures surface as lifecycle events.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "topic is required")
		return
	}
	if strings.ContainsAny(req.Topic, "+#") {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "topic must not contain wildcards")
		return
	}

	s.supervisor.PublishMessage(req.Topic, []byte(req.Payload))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"topic":  req.Topic,
		"bytes":  len(req.Payload),
	})
}
