package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"beacon/internal/platform/config"
)

// maxHeaderBytes leaves room for the two scope cookies and a long Referer.
const maxHeaderBytes = 16 << 10

// New builds the public server. Beacon payloads are small, so reads are cut short;
// writes get the handler timeout plus headroom for the response.
func New(cfg config.Server, handler http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    maxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}
