package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/soundnetapp/soundnet-core/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const callbackShutdownTimeout = 3 * time.Second

const callbackPage = `<html><body><p>Spotify link successful. You can close this window and return to the app.</p></body></html>`

// CallbackServer is the loopback listener that catches the provider
// redirect during the link flow. It exists only for the lifetime of
// one authorization; the module has no other server surface.
type CallbackServer struct {
	host    string
	logger  *zap.Logger
	metrics http.Handler
	health  gin.HandlerFunc

	server *http.Server
	addr   string
	params chan CallbackParams
}

// NewCallbackServer creates a callback listener bound to host. The
// optional metrics and health handlers are exposed on /metrics and
// /health while the listener runs.
func NewCallbackServer(host string, logger *zap.Logger, metrics http.Handler, health gin.HandlerFunc) *CallbackServer {
	return &CallbackServer{
		host:    host,
		logger:  logger,
		metrics: metrics,
		health:  health,
		params:  make(chan CallbackParams, 1),
	}
}

// Start begins serving on the loopback host. It returns once the
// listener is bound; the redirect is collected with Wait.
func (c *CallbackServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.host)
	if err != nil {
		return fmt.Errorf("failed to open callback listener: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("soundnet-link"))
	router.Use(c.requestLogger())

	router.GET("/callback", c.handleCallback)
	if c.health != nil {
		router.GET("/health", c.health)
	}
	if c.metrics != nil {
		router.GET("/metrics", observability.PrometheusHandler(c.metrics))
	}

	c.server = &http.Server{Handler: router}
	c.addr = ln.Addr().String()

	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("callback server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Addr returns the bound listen address, valid after Start
func (c *CallbackServer) Addr() string {
	return c.addr
}

// Wait blocks until the provider redirect arrives or the context ends
func (c *CallbackServer) Wait(ctx context.Context) (CallbackParams, error) {
	select {
	case <-ctx.Done():
		return CallbackParams{}, ctx.Err()
	case params := <-c.params:
		return params, nil
	}
}

// Shutdown stops the listener
func (c *CallbackServer) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *CallbackServer) handleCallback(gc *gin.Context) {
	params := CallbackParams{
		Code:      gc.Query("code"),
		State:     gc.Query("state"),
		ErrorCode: gc.Query("error"),
	}

	if params.State == "" {
		gc.String(http.StatusBadRequest, "invalid response from provider")
		return
	}

	select {
	case c.params <- params:
	default:
		// A redirect was already collected; ignore replays.
	}

	gc.Header("Content-Type", "text/html")
	gc.String(http.StatusOK, callbackPage)
}

func (c *CallbackServer) requestLogger() gin.HandlerFunc {
	return func(gc *gin.Context) {
		start := time.Now()
		path := gc.Request.URL.Path

		gc.Next()

		c.logger.Info("HTTP request",
			zap.Int("status", gc.Writer.Status()),
			zap.String("method", gc.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
