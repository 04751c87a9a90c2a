package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/cleandispatch/api/events"
	"github.com/kilianp07/cleandispatch/api/jobs"
	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Routes are the collaborators served by NewRouter.
type Routes struct {
	Events    events.Source
	Publisher eventbus.Publisher
	Jobs      jobs.Dispatcher
	Token     string
}

// NewRouter mounts every endpoint behind the bearer token.
func NewRouter(r Routes) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/events", events.NewQueryHandler(r.Events))
	mux.Handle("POST /api/events", events.NewIngestHandler(r.Publisher))
	jobs.Mount(mux, r.Jobs)
	return RequireToken(r.Token, mux)
}

// Serve runs the API on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	log := logger.New("api")
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
