// Package httpserver constructs the process's HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. The read timeout leaves room for multi-megabyte
// proof uploads on slow mobile links; per-request deadlines are enforced by
// router middleware instead.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       90 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
