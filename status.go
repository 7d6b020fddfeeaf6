package synchub

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatusSource reports the live state of a hub.
type StatusSource interface {
	Snapshot() Snapshot
}

// CacheInspector exposes cache introspection. Fetch loads a key that is not
// cached yet.
type CacheInspector interface {
	Keys() []string
	Get(key Key) (any, bool)
	IsStale(key Key) bool
	Fetch(ctx context.Context, key Key) (any, error)
}

// StatusServer serves a small read-only HTTP API about a running hub.
type StatusServer struct {
	router *gin.Engine
	server *http.Server
	log    *logrus.Entry
}

// NewStatusServer builds the router. Nothing listens until Serve.
func NewStatusServer(addr string, src StatusSource, cache CacheInspector) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &StatusServer{
		router: router,
		server: &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		log:    logrus.WithField("component", "status"),
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	})
	router.GET("/cache/keys", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"keys": cache.Keys()})
	})
	router.GET("/cache/entry", func(c *gin.Context) {
		raw := strings.Trim(c.Query("key"), "/")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key parameter is required"})
			return
		}
		key := Key(strings.Split(raw, "/"))
		value, ok := cache.Get(key)
		if !ok {
			var err error
			value, err = cache.Fetch(c.Request.Context(), key)
			switch {
			case errors.Is(err, ErrNoFetcher):
				c.JSON(http.StatusNotFound, gin.H{"error": "key not cached"})
				return
			case err != nil:
				s.log.WithError(err).WithField("key", key.String()).Warn("fetch on lookup failed")
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"key": key.String(), "stale": cache.IsStale(key), "value": value})
	})
	return s
}

// Handler returns the router, for tests and embedding.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *StatusServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", s.server.Addr).Info("starting status API")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("status API stopped")
	return nil
}
