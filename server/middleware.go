package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// statusRecorder captures the response code written by a handler so the
// request log can report how a query resolved.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requestLogger logs every query-surface request with its outcome. Failed
// reads (revert-class statuses) log at warn level so a scan of the daemon
// log surfaces them next to reversed calls.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		entry := logrus.WithFields(logrus.Fields{
			"status":  rec.status,
			"elapsed": time.Since(start).String(),
		})
		if rec.status >= http.StatusBadRequest {
			entry.Warnf("%s %s", r.Method, r.RequestURI)
			return
		}
		entry.Infof("%s %s", r.Method, r.RequestURI)
	})
}
