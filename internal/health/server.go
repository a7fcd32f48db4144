// Package health serves the liveness endpoint used by hosting platforms.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mwsync "github.com/nhle/mailwatch/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// LoopStatus reports the state of a running poll loop.
type LoopStatus interface {
	Status() mwsync.Status
}

// Server answers GET /health.
type Server struct {
	engine *gin.Engine
	loc    *time.Location
	mode   string
	loop   LoopStatus
	log    *zap.SugaredLogger
	now    func() time.Time
}

// New builds the router. Times are rendered in loc and the response names
// loc, which is UTC when the configured zone could not be resolved. loop
// may be nil when no poll loop runs in this process.
func New(loc *time.Location, mode string, loop LoopStatus, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if loc == nil {
		loc = time.UTC
	}

	s := &Server{
		engine: gin.New(),
		loc:    loc,
		mode:   mode,
		loop:   loop,
		log:    log,
		now:    time.Now,
	}

	s.engine.Use(s.requestLogger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Errorw("Health handler panicked", "panic", fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"ok":    false,
			"error": fmt.Sprint(recovered),
		})
	}))
	s.engine.GET("/health", s.handleHealth)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"ok":       true,
		"time":     s.now().In(s.loc).Format(time.RFC3339),
		"timezone": s.loc.String(),
		"mode":     s.mode,
	}
	if s.loop != nil {
		body["worker"] = s.workerStatus()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) workerStatus() gin.H {
	st := s.loop.Status()
	worker := gin.H{"state": st.State.String()}
	if !st.LastRun.IsZero() {
		worker["last_run"] = st.LastRun.In(s.loc).Format(time.RFC3339)
		worker["last_cycle"] = gin.H{
			"id":        st.LastCycle.CycleID,
			"found":     st.LastCycle.Found,
			"delivered": st.LastCycle.Delivered,
			"skipped":   st.LastCycle.Skipped,
			"failed":    st.LastCycle.Failed,
		}
	}
	return worker
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// Run listens on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Health server listening", "port", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving health endpoint: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down health server: %w", err)
	}
	return nil
}
