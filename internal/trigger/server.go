// internal/trigger/server.go
package trigger

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/common/logger"
	dispatch "push-dispatcher/internal/workers/push/dispatch-notifications"
)

// Dispatcher runs dispatch invocations.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestedLimit *int) (*dispatch.Summary, error)
	Reclaim(ctx context.Context) (int64, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger func(ctx context.Context) error

type Server struct {
	router     *gin.Engine
	dispatcher Dispatcher
	checks     map[string]Pinger
	logger     logger.Logger
}

// NewServer builds the router. checks are run by /ready, keyed by name.
func NewServer(dispatcher Dispatcher, checks map[string]Pinger, log logger.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		checks:     checks,
		logger:     log.WithFields(map[string]interface{}{"component": "trigger"}),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/dispatch", s.handleDispatch())
	s.router.POST("/dispatch", s.handleDispatch())
	s.router.POST("/reclaim", s.handleReclaim())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// parseLimit returns nil for an absent or unparseable limit, which the
// dispatcher replaces with its default. Any number is passed on for
// clamping, zero included.
func parseLimit(raw string) *int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func (s *Server) handleDispatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseLimit(c.Query("limit"))

		summary, err := s.dispatcher.Dispatch(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("dispatch invocation failed", map[string]interface{}{"error": err})
			c.JSON(http.StatusInternalServerError, errorBody(err))
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func (s *Server) handleReclaim() gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := s.dispatcher.Reclaim(c.Request.Context())
		if err != nil {
			s.logger.Error("lease sweep failed", map[string]interface{}{"error": err})
			c.JSON(http.StatusInternalServerError, errorBody(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"reclaimed": n})
	}
}

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, ping := range s.checks {
			if err := ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

func errorBody(err error) gin.H {
	se := apperrors.Normalize(err)
	return gin.H{"error": se.Error(), "code": se.Code}
}
