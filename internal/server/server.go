package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"mailtally/internal/model"
	"mailtally/internal/store"
)

// ReportStore is the read side of the store served over HTTP.
type ReportStore interface {
	Snapshot(ctx context.Context, opts store.SnapshotOptions) ([]model.SenderCount, error)
	LastRun(ctx context.Context) (*model.RunSummary, error)
	RecentRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
	Verify(ctx context.Context) (store.InvariantReport, error)
	LastReconciled(ctx context.Context) (time.Time, error)
}

const maxLimit = 1000

// NewRouter builds the read-only report API.
func NewRouter(st ReportStore, logger *log.Logger) *gin.Engine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/senders", func(c *gin.Context) {
		opts := store.SnapshotOptions{}
		switch c.DefaultQuery("order", "desc") {
		case "asc":
		case "desc":
			opts.Desc = true
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "order must be asc or desc"})
			return
		}
		limit, err := parseLimit(c.Query("limit"), 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Limit = limit

		senders, err := st.Snapshot(c.Request.Context(), opts)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		if senders == nil {
			senders = []model.SenderCount{}
		}
		c.JSON(http.StatusOK, gin.H{"senders": senders})
	})

	r.GET("/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		last, err := st.LastRun(ctx)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		inv, err := st.Verify(ctx)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		reconciled, err := st.LastReconciled(ctx)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		status := gin.H{
			"last_run":   last,
			"seen":       inv.Seen,
			"counted":    inv.Counted,
			"drifted":    inv.Drifted,
			"consistent": inv.OK,
		}
		if !reconciled.IsZero() {
			status["last_reconciled_at"] = reconciled
		}
		c.JSON(http.StatusOK, status)
	})

	r.GET("/runs", func(c *gin.Context) {
		limit, err := parseLimit(c.Query("limit"), 20)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		runs, err := st.RecentRuns(c.Request.Context(), limit)
		if err != nil {
			internalError(c, logger, err)
			return
		}
		if runs == nil {
			runs = []model.RunSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	return r
}

// Serve runs the router on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving report API", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func internalError(c *gin.Context, logger *log.Logger, err error) {
	logger.Error("request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}
