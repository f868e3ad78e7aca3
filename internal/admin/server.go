// Package admin serves the HTTP control surface of a pipectl host.
package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/pipectl/internal/auth"
	"github.com/danmuck/pipectl/internal/endpoint"
	"github.com/danmuck/pipectl/internal/observability"
	"github.com/danmuck/pipectl/internal/pipe"
	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// PipeSource exposes the live pipes of a host.
type PipeSource interface {
	Pipes() []*pipe.Pipe
	Lookup(id string) (*pipe.Pipe, bool)
}

type Server struct {
	Name     string
	Appeared time.Time

	source PipeSource
	guard  auth.Validator
	router *gin.Engine
}

type pipeView struct {
	ID        string `json:"id"`
	Remote    string `json:"remote"`
	Endpoints int    `json:"endpoints"`
}

type reasonView struct {
	CustomReason uint32 `json:"custom_reason"`
	Description  string `json:"description"`
}

type endpointView struct {
	ID         uint32      `json:"id"`
	State      string      `json:"state"`
	OpenedAt   *time.Time  `json:"opened_at,omitempty"`
	ClosedAt   *time.Time  `json:"closed_at,omitempty"`
	PeerReason *reasonView `json:"peer_reason,omitempty"`
}

// New builds the admin engine. A non-nil guard protects mutating routes with
// a bearer token.
func New(name string, source PipeSource, corsOrigins []string, guard auth.Validator) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequestLogger(log.Logger))
	r.Use(observability.AdminRequestMetrics(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Name:     name,
		Appeared: time.Now(),
		source:   source,
		guard:    guard,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Appeared).String(),
			"component": s.Name,
			"pipes":     len(s.source.Pipes()),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/pipes", func(c *gin.Context) {
		pipes := s.source.Pipes()
		out := make([]pipeView, 0, len(pipes))
		for _, p := range pipes {
			out = append(out, pipeView{
				ID:        p.ID().String(),
				Remote:    remoteString(p),
				Endpoints: p.Endpoints().Len(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"pipes": out})
	})

	s.router.GET("/pipes/:id/endpoints", func(c *gin.Context) {
		p, ok := s.source.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pipe not found"})
			return
		}
		list := p.Endpoints().List()
		out := make([]endpointView, 0, len(list))
		for _, ep := range list {
			out = append(out, viewEndpoint(ep))
		}
		c.JSON(http.StatusOK, gin.H{"pipe": p.ID().String(), "endpoints": out})
	})

	s.router.DELETE("/pipes/:id/endpoints/:endpoint", auth.RequireBearer(s.guard), func(c *gin.Context) {
		p, ok := s.source.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pipe not found"})
			return
		}
		id, err := parseInterfaceID(c.Param("endpoint"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reason, err := reasonFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := p.CloseEndpoint(id, reason); err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, endpoint.ErrUnknownEndpoint):
				status = http.StatusNotFound
			case errors.Is(err, endpoint.ErrEndpointClosed):
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		log.Info().
			Str("pipe", p.ID().String()).
			Uint32("endpoint", uint32(id)).
			Bool("has_reason", reason != nil).
			Msg("admin closed endpoint")
		c.JSON(http.StatusOK, gin.H{"status": "closed", "endpoint": uint32(id)})
	})
}

func parseInterfaceID(raw string) (pipecontrol.InterfaceID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 32)
	if err != nil {
		return 0, errors.New("endpoint must be a 32-bit interface id")
	}
	id := pipecontrol.InterfaceID(v)
	if !id.IsValid() {
		return 0, errors.New("endpoint id is reserved for pipe control")
	}
	return id, nil
}

// reasonFromQuery builds a reason when code or reason is present. An empty
// reason= still yields a present reason.
func reasonFromQuery(c *gin.Context) (*pipecontrol.DisconnectReason, error) {
	code, hasCode := c.GetQuery("code")
	desc, hasDesc := c.GetQuery("reason")
	if !hasCode && !hasDesc {
		return nil, nil
	}
	reason := &pipecontrol.DisconnectReason{Description: desc}
	if hasCode && code != "" {
		v, err := strconv.ParseUint(code, 10, 32)
		if err != nil {
			return nil, errors.New("code must be an unsigned 32-bit integer")
		}
		reason.CustomReason = uint32(v)
	}
	return reason, nil
}

func viewEndpoint(ep endpoint.Endpoint) endpointView {
	v := endpointView{ID: uint32(ep.ID), State: string(ep.State)}
	if !ep.OpenedAt.IsZero() {
		t := ep.OpenedAt
		v.OpenedAt = &t
	}
	if !ep.ClosedAt.IsZero() {
		t := ep.ClosedAt
		v.ClosedAt = &t
	}
	if r := ep.PeerReason; r != nil {
		v.PeerReason = &reasonView{CustomReason: r.CustomReason, Description: r.Description}
	}
	return v
}

func remoteString(p *pipe.Pipe) string {
	if addr := p.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
