package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goatnetwork/wallet-sweeper/internal/metrics"
	"github.com/goatnetwork/wallet-sweeper/internal/state"
	"github.com/goatnetwork/wallet-sweeper/internal/sweep"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// HealthReader is the health monitor's read side
type HealthReader interface {
	Statuses() []types.BackendStatus
}

// BalanceQuery is the balance query service
type BalanceQuery interface {
	GetBalance(ctx context.Context, address string, kind types.ChainKind) (decimal.Decimal, error)
	LastRecord(address string, kind types.ChainKind) (*types.BalanceRecord, error)
}

// Sweeper runs sweep batches and confirms them
type Sweeper interface {
	Sweep(ctx context.Context, batch *sweep.Batch) (*sweep.Result, error)
	Confirm(ctx context.Context, attempts []*types.SweepAttempt) (int, error)
}

type Options struct {
	Port      string
	JwtSecret string
}

type HTTPServer struct {
	state    *state.State
	health   HealthReader
	balances BalanceQuery
	sweeper  Sweeper
	opts     Options
}

func NewHTTPServer(st *state.State, health HealthReader, balances BalanceQuery, sweeper Sweeper, opts Options) *HTTPServer {
	return &HTTPServer{
		state:    st,
		health:   health,
		balances: balances,
		sweeper:  sweeper,
		opts:     opts,
	}
}

// Router builds the gin engine with every route
func (hs *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	api.GET("/health", hs.handleHealth)
	api.GET("/balance/:chain/:address", hs.handleBalance)
	api.GET("/sweeps/:batch", hs.handleListSweeps)

	protected := api.Group("")
	if hs.opts.JwtSecret != "" {
		protected.Use(jwtAuth([]byte(hs.opts.JwtSecret)))
	} else {
		log.Warn("API_JWT_SECRET is empty, sweep endpoints are not authenticated")
	}
	protected.POST("/sweep", hs.handleSweep)
	protected.POST("/sweeps/:batch/confirm", hs.handleConfirm)
	return r
}

// Start serves until ctx is done, then shuts the server down gracefully
func (hs *HTTPServer) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              ":" + hs.opts.Port,
		Handler:           hs.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", hs.opts.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
	log.Info("HTTP server stopped")
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("HTTP request")
	}
}

func (hs *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": hs.health.Statuses()})
}
