package events

import (
	"io"
	"net/http"

	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

const maxEventBytes = 1 << 20

// NewWebhookHandler accepts POSTed article events. When key is set the
// request must carry it in X-Webhook-Key. A parsed event is always answered
// with 202; what the bridge does with it is not reported back.
func NewWebhookHandler(key string, sink Sink) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if key != "" && r.Header.Get("X-Webhook-Key") != key {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		item, err := DecodeArticle(body)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		logger.InfoCF("events", "Article event received", map[string]any{
			"id":    string(item.ID),
			"type":  string(item.Type),
			"title": item.Title,
		})
		sink.OnArticleCreated(r.Context(), item)

		w.WriteHeader(http.StatusAccepted)
	})
}
