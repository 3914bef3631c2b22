// Package admin serves the conductor's HTTP admin surface.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/azargarov/conductor"
)

// Source is the part of the conductor the admin surface reads and tunes.
type Source interface {
	Stats() conductor.Stats
	SetCrossoverFactor(n int)
}

// Health is the /healthz body.
type Health struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	LiveWorkers map[string]int `json:"live_workers"`
}

type handler struct {
	src Source
}

// NewRouter builds the admin routes. reg may be nil, in which case
// /metrics is not served.
func NewRouter(src Source, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handler{src: src}
	r.GET("/healthz", h.health)
	r.GET("/stats", h.stats)
	r.PUT("/crossover-factor", h.setCrossoverFactor)
	if reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	return r
}

// health reports "ok" while at least one worker of any kind is connected.
func (h *handler) health(c *gin.Context) {
	st := h.src.Stats()
	live := make(map[string]int, len(st.Pools))
	total := 0
	for _, p := range st.Pools {
		n := p.Registered - p.Dead
		live[p.Kind.String()] = n
		total += n
	}

	body := Health{Status: "ok", Timestamp: time.Now(), LiveWorkers: live}
	code := http.StatusOK
	if total == 0 {
		body.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.src.Stats())
}

type factorRequest struct {
	Factor int `json:"factor" binding:"required,min=1"`
}

func (h *handler) setCrossoverFactor(c *gin.Context) {
	var req factorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.src.SetCrossoverFactor(req.Factor)
	lg.FromContext(c.Request.Context()).Info("crossover factor changed", lg.Int("factor", req.Factor))
	c.JSON(http.StatusOK, gin.H{"crossover_factor": h.src.Stats().CrossoverFactor})
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	lg.FromContext(ctx).Info("admin listening", lg.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
