package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

func logRequestStart(r *http.Request, task string) {
	if zlog == nil {
		log.Printf("generate start task=%s req_id=%s", task, middleware.GetReqID(r.Context()))
		return
	}
	zlog.Info().
		Str("req_id", middleware.GetReqID(r.Context())).
		Str("task", task).
		Str("remote", r.RemoteAddr).
		Msg("generate start")
}

func logRequestEnd(r *http.Request, status int, dur time.Duration, err error) {
	if zlog == nil {
		log.Printf("generate end status=%d dur=%s req_id=%s err=%v", status, dur, middleware.GetReqID(r.Context()), err)
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Error().Err(err)
	}
	ev.
		Str("req_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Dur("duration", dur).
		Msg("generate end")
}
