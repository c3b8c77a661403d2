// Package api exposes the assistant over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rag/internal/domain"
	"rag/internal/index"
	"rag/internal/logger"
	"rag/internal/metrics"
)

// Asker answers questions for a category.
type Asker interface {
	Labels() domain.Labels
	AskCategory(ctx context.Context, c domain.Category, question string) domain.Answer
}

// Rebuilder rebuilds a category partition from its documents.
type Rebuilder interface {
	Rebuild(ctx context.Context, c domain.Category) (*index.Handle, error)
}

// AskRequest is the body of POST /v1/ask. Category accepts a label or a key.
type AskRequest struct {
	Category string `json:"category" binding:"required"`
	Question string `json:"question"`
}

// AskResponse is the structured answer.
type AskResponse struct {
	Category string   `json:"category"`
	Status   string   `json:"status"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Text     string   `json:"text"`
}

type categoryView struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type rebuildResponse struct {
	Category   string `json:"category"`
	Documents  int    `json:"documents"`
	Skipped    int    `json:"skipped"`
	Chunks     int    `json:"chunks"`
	DurationMS int64  `json:"duration_ms"`
}

// Server wires the routes.
type Server struct {
	asker   Asker
	indexes Rebuilder
	metrics *metrics.Metrics
	engine  *gin.Engine
}

// NewServer builds the router. indexes and m may be nil; the matching routes are then not registered.
func NewServer(asker Asker, indexes Rebuilder, m *metrics.Metrics) *Server {
	s := &Server{asker: asker, indexes: indexes, metrics: m, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	v1 := s.engine.Group("/v1")
	v1.GET("/categories", s.listCategories)
	v1.POST("/ask", s.ask)
	if indexes != nil {
		v1.POST("/index/:key/rebuild", s.rebuild)
	}
	if m != nil {
		s.engine.GET("/metrics", gin.WrapH(m.Handler()))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) listCategories(c *gin.Context) {
	labels := s.asker.Labels()
	out := make([]categoryView, 0, len(labels))
	for _, cat := range domain.Categories() {
		out = append(out, categoryView{Key: cat.Key(), Label: labels.Label(cat)})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out})
}

func (s *Server) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	labels := s.asker.Labels()
	cat, err := labels.Parse(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category", "details": err.Error(), "categories": labels.List()})
		return
	}
	ans := s.asker.AskCategory(c.Request.Context(), cat, req.Question)
	sources := ans.Sources
	if sources == nil {
		sources = []string{}
	}
	c.JSON(http.StatusOK, AskResponse{
		Category: labels.Label(cat),
		Status:   string(ans.Status),
		Answer:   ans.Text,
		Sources:  sources,
		Text:     ans.Format(),
	})
}

func (s *Server) rebuild(c *gin.Context) {
	cat, err := domain.CategoryFromKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown category", "details": err.Error()})
		return
	}
	h, err := s.indexes.Rebuild(c.Request.Context(), cat)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNoDocuments) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": "Rebuild failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rebuildResponse{
		Category:   cat.Key(),
		Documents:  h.Stats.Documents,
		Skipped:    h.Stats.Skipped,
		Chunks:     h.Stats.Chunks,
		DurationMS: h.Stats.Duration.Milliseconds(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
