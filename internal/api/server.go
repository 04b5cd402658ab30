package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/mailrelay/internal/auth"
	"github.com/vdavid/mailrelay/internal/logging"
)

// NewServer wires the callback and mailbox routes. Either handler may be nil,
// in which case its routes are not registered.
func NewServer(callbacks *CallbackHandler, mailbox *MailboxHandler, apiKey string, logger zerolog.Logger) http.Handler {
	protect := auth.RequireAPIKey(apiKey, logging.Component(logger, "auth"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)

	if callbacks != nil {
		mux.Handle("POST /update-message", protect(http.HandlerFunc(callbacks.UpdateMessage)))
	}

	if mailbox != nil {
		mux.Handle("POST /get-uid", protect(http.HandlerFunc(mailbox.GetUID)))
		mux.Handle("POST /move-email", protect(http.HandlerFunc(mailbox.MoveEmail)))
		mux.Handle("POST /mark-as-read", protect(http.HandlerFunc(mailbox.MarkAsRead)))
		mux.Handle("POST /get-text", protect(http.HandlerFunc(mailbox.GetText)))
		mux.Handle("POST /create-draft", protect(http.HandlerFunc(mailbox.CreateDraft)))
		mux.Handle("POST /suggest-answer", protect(http.HandlerFunc(mailbox.SuggestAnswer)))
	}

	return logRequests(mux, logging.Component(logger, "http"))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailrelay is running")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
