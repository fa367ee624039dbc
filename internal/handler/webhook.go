package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"go.uber.org/zap"
)

// NotificationHandler processes a verified provider notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n domain.Notification) (*domain.WebhookAck, error)
}

// SignatureVerifier checks the provider's webhook signature.
type SignatureVerifier interface {
	VerifySignature(signature, requestID, dataID string) bool
}

// WebhookHandler receives payment provider notifications.
type WebhookHandler struct {
	sync     NotificationHandler
	verifier SignatureVerifier
	logger   *zap.Logger
}

func NewWebhookHandler(sync NotificationHandler, verifier SignatureVerifier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{sync: sync, verifier: verifier, logger: logger}
}

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type notificationBody struct {
	ID     flexID `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// Handle handles POST /api/webhooks/provider. Anything we cannot use is still
// acknowledged with 200 so the provider stops retrying; only a failure of our
// own store asks for redelivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		Error(w, domain.ErrBadRequest("failed to read body"))
		return
	}

	var payload notificationBody
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			h.logger.Info("unparseable webhook body", zap.Error(err))
		}
	}

	q := r.URL.Query()
	n := domain.Notification{
		ID:         string(payload.ID),
		Type:       firstNonEmpty(payload.Type, q.Get("type"), q.Get("topic")),
		Action:     payload.Action,
		DataID:     firstNonEmpty(string(payload.Data.ID), q.Get("data.id"), q.Get("id")),
		RawPayload: body,
	}
	if len(n.RawPayload) == 0 {
		n.RawPayload = []byte(r.URL.RawQuery)
	}

	if !h.verifier.VerifySignature(r.Header.Get("x-signature"), r.Header.Get("x-request-id"), n.DataID) {
		h.logger.Warn("webhook signature mismatch",
			zap.String("type", n.Type),
			zap.String("data_id", n.DataID),
		)
		Error(w, domain.ErrUnauthenticated("invalid signature"))
		return
	}

	ack, err := h.sync.HandleNotification(r.Context(), n)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, ack)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
