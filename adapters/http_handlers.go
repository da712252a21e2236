package adapters

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mqtt-gateway/application"

	"github.com/go-chi/chi/v5"
)

// CreateBrokerConfigRequest is the PUT /mqtt/{broker} body.
type CreateBrokerConfigRequest struct {
	HostName string `json:"host_name"`
	Port     int    `json:"port"`
}

type StatusResponse struct {
	MessageCount      uint64    `json:"message_count"`
	LastTimePublished time.Time `json:"last_time_published"`
	Connected         bool      `json:"connected"`
}

type ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeInternal           = "internal_error"
	ErrCodeInvalidBroker      = "invalid_broker"
	ErrCodeConnectionFailed   = "connection_failed"
	ErrCodePublishFailed      = "publish_failed"
	ErrCodeSubscriptionFailed = "subscription_failed"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePutBrokerConfig stores a broker config. A blank host name is a no-op.
func (s *HTTPServer) handlePutBrokerConfig(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")

	var req CreateBrokerConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.params.MaxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid broker config body")
		return
	}

	err := s.gateway.PutBrokerConfig(r.Context(), broker, application.BrokerConfig{
		HostName: strings.TrimSpace(req.HostName),
		Port:     req.Port,
	})
	if err != nil {
		s.log.Error().Err(err).Str("broker", broker).Msg("failed to store broker config")
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to store broker config")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetBrokerConfig returns the broker config, or an empty body when the
// broker is unknown.
func (s *HTTPServer) handleGetBrokerConfig(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")

	cfg, ok, err := s.gateway.GetBrokerConfig(r.Context(), broker)
	if err != nil {
		s.log.Error().Err(err).Str("broker", broker).Msg("failed to load broker config")
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load broker config")
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) handleDeleteBrokerConfig(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")

	if err := s.gateway.DeleteBrokerConfig(r.Context(), broker); err != nil {
		s.log.Error().Err(err).Str("broker", broker).Msg("failed to delete broker config")
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to delete broker config")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")

	status, ok := s.gateway.Status(broker)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no client for broker")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		MessageCount:      status.MessageCount,
		LastTimePublished: status.LastTimePublished,
		Connected:         status.Connected,
	})
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")
	topic := urlParam(r, "topic")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.params.MaxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read message body")
		return
	}

	if err := s.gateway.Publish(r.Context(), broker, topic, string(body)); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleSubscribe streams messages until the client goes away or the
// subscription ends. Messages are newline delimited unless the client asks
// for text/event-stream.
func (s *HTTPServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	broker := urlParam(r, "broker")
	topic := urlParam(r, "topic")
	log := s.log.With().Str("broker", broker).Str("topic", topic).Logger()

	listener, err := s.gateway.Subscribe(r.Context(), broker, topic)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	defer listener.Close()

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	log.Debug().Msg("client subscribed")
	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("subscription cancelled")
			return
		case msg, ok := <-listener.C():
			if !ok {
				if err := listener.Err(); err != nil {
					log.Warn().Err(err).Msg("subscription ended")
				}
				return
			}

			if sse {
				err = writeEvent(w, msg.Payload)
			} else {
				_, err = fmt.Fprintln(w, msg.Payload)
			}
			if err != nil {
				log.Debug().Err(err).Msg("write failed")
				return
			}
			flush()
		}
	}
}

// urlParam returns the decoded route parameter so topics may carry encoded
// slashes and wildcards. chi routes on RawPath when it is set, and only then
// is the parameter still escaped.
func urlParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func writeEvent(w io.Writer, payload string) error {
	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func (s *HTTPServer) writeGatewayError(w http.ResponseWriter, err error) {
	var (
		connErr *application.ConnectionError
		pubErr  *application.PublishError
		subErr  *application.SubscriptionError
	)

	switch {
	case errors.Is(err, application.ErrInvalidBroker):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidBroker, err.Error())
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, ErrCodeConnectionFailed, err.Error())
	case errors.As(err, &pubErr):
		writeError(w, http.StatusBadGateway, ErrCodePublishFailed, err.Error())
	case errors.As(err, &subErr):
		writeError(w, http.StatusBadGateway, ErrCodeSubscriptionFailed, err.Error())
	default:
		s.log.Error().Err(err).Msg("unexpected gateway error")
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Status:  status,
		Code:    code,
		Message: message,
	})
}
