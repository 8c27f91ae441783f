package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/server/auth"
	"github.com/gorilla/mux"
)

type ctxKey string

const recordIDKey ctxKey = "recordID"

// requireRecordToken admits a request only if its record token names the
// record in the path. A token for another record yields the same 404 as an
// unknown record.
func (s *Server) requireRecordToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(common.RecordTokenHeaderName)
		if token == "" {
			writeError(w, common.ErrorUnauthorized)
			return
		}

		recordID, err := auth.GetRecordIDFromToken(token, s.jwtSecret)
		if err != nil {
			writeError(w, err)
			return
		}

		if recordID != mux.Vars(r)["id"] {
			s.logger.Warn(r.Context(), "record token does not match path", "token_record_id", recordID)
			writeError(w, errNotFound)
			return
		}

		ctx := context.WithValue(r.Context(), recordIDKey, recordID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recordIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(recordIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request. Route templates are logged instead
// of raw paths so download tokens stay out of the logs.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.logger.Info(r.Context(), "http request",
			"method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error(r.Context(), "panic in handler", "panic", p)
				writeError(w, common.ErrorInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
