package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"

	"github.com/Epetaway/mtg-proxy-generator/internal/scanner"
)

type sessionRequest struct {
	Threshold   *float64 `json:"threshold"`
	IntervalMs  *int64   `json:"interval_ms"`
	TargetCount *int     `json:"target_count"`
}

// bindOptional binds a JSON body when one was sent
func bindOptional(c *gin.Context, req interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (r sessionRequest) apply(base scanner.Settings) scanner.Settings {
	if r.Threshold != nil {
		base.Threshold = *r.Threshold
	}
	if r.IntervalMs != nil {
		base.Interval = time.Duration(*r.IntervalMs) * time.Millisecond
	}
	if r.TargetCount != nil {
		base.TargetCount = *r.TargetCount
	}
	return base
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, check := range s.cfg.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{
		"status":   "ok",
		"checks":   checks,
		"sessions": s.cfg.Manager.Count(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if s.cfg.Names != nil {
		body["nameIndex"] = gin.H{"ready": s.cfg.Names.Ready(), "names": s.cfg.Names.Size()}
	}
	c.JSON(status, body)
}

func (s *Server) createSessionHandler(c *gin.Context) {
	var req sessionRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.cfg.Manager.Create(c.Request.Context(), req.apply(s.cfg.Manager.Defaults()))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) getSessionHandler(c *gin.Context) {
	snap, err := s.cfg.Manager.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) startSessionHandler(c *gin.Context) {
	var req sessionRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var interval time.Duration
	if req.IntervalMs != nil {
		interval = time.Duration(*req.IntervalMs) * time.Millisecond
	}
	var target int
	if req.TargetCount != nil {
		target = *req.TargetCount
	}

	snap, err := s.cfg.Manager.Start(c.Param("id"), interval, target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) stopSessionHandler(c *gin.Context) {
	snap, err := s.cfg.Manager.Stop(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) captureHandler(c *gin.Context) {
	tick, appended, err := s.cfg.Manager.CaptureLines(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	snap, _ := s.cfg.Manager.Get(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"tick": tick, "appended": appended, "session": snap})
}

func (s *Server) resolveHandler(c *gin.Context) {
	matches, err := s.cfg.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) finalizeHandler(c *gin.Context) {
	scan, err := s.cfg.Manager.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, scan)
}

func (s *Server) deleteSessionHandler(c *gin.Context) {
	if err := s.cfg.Manager.Delete(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) recognizeHandler(c *gin.Context) {
	header, err := c.FormFile("frame")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'frame' is required"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame is not a supported image"})
		return
	}

	rec, err := s.cfg.Manager.RecognizeImage(c.Request.Context(), img, "upload:"+header.Filename)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) suggestHandler(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	limit := s.cfg.SuggestLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxSuggestLimit {
		limit = maxSuggestLimit
	}

	if query == "" {
		c.JSON(http.StatusOK, gin.H{"query": query, "suggestions": []string{}})
		return
	}
	if err := s.cfg.Names.EnsureReady(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "suggestions": s.cfg.Names.Suggest(query, limit)})
}
