// Package handlers exposes the fleet API over HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"semaforo/internal/alerts"
	"semaforo/internal/logger"
	"semaforo/internal/models"
	"semaforo/internal/propagation"
)

// Service is what the API needs from the propagation layer
type Service interface {
	RegisterAircraft(ctx context.Context, a *models.Aircraft) error
	AddComponent(ctx context.Context, c *models.Component) error
	Aircraft(ctx context.Context, id string) (*models.Aircraft, error)
	Components(ctx context.Context, aircraftID string) ([]models.Component, error)
	AircraftAlerts(ctx context.Context, aircraftID string) ([]alerts.ComponentAlert, error)
	ApplyUsageUpdate(ctx context.Context, u propagation.UsageUpdate) (*propagation.Result, error)
	RetryComponents(ctx context.Context, r propagation.RetryRequest) (*propagation.Result, error)
	ResetComponent(ctx context.Context, componentID, reason string) (*models.Component, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Config wires the API
type Config struct {
	Service Service

	// Checks are run by /health, keyed by dependency name
	Checks map[string]HealthCheck

	// Stats, when set, is served at /stats
	Stats func() any

	MaxBodySize int64
}

// API holds the HTTP handlers
type API struct {
	svc         Service
	checks      map[string]HealthCheck
	stats       func() any
	maxBodySize int64
}

// NewRouter builds the gin engine serving the API
func NewRouter(cfg Config) *gin.Engine {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 1 << 20
	}
	api := &API{
		svc:         cfg.Service,
		checks:      cfg.Checks,
		stats:       cfg.Stats,
		maxBodySize: cfg.MaxBodySize,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(api.limitBody)

	r.GET("/health", api.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if api.stats != nil {
		r.GET("/stats", func(c *gin.Context) { Success(c, api.stats()) })
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/aircraft", api.CreateAircraft)
		v1.GET("/aircraft/:id", api.GetAircraft)
		v1.PUT("/aircraft/:id/hours", api.UpdateHours)
		v1.POST("/aircraft/:id/components", api.CreateComponent)
		v1.GET("/aircraft/:id/components", api.ListComponents)
		v1.POST("/aircraft/:id/components/retry", api.RetryComponents)
		v1.GET("/aircraft/:id/alerts", api.Alerts)
		v1.POST("/components/:id/reset", api.ResetComponent)
	}

	r.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found")
	})

	return r
}

func (a *API) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBodySize)
	c.Next()
}

// Health runs every dependency check
func (a *API) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	message := "healthy"
	if status != http.StatusOK {
		message = "unhealthy"
	}
	respond(c, status, message, gin.H{
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateAircraftRequest registers an aircraft
type CreateAircraftRequest struct {
	ID           string  `json:"id"`
	Registration string  `json:"registration" binding:"required"`
	Model        string  `json:"model"`
	TotalHours   float64 `json:"total_hours" binding:"gte=0"`
}

func (a *API) CreateAircraft(c *gin.Context) {
	var req CreateAircraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	aircraft := &models.Aircraft{
		ID:           req.ID,
		Registration: req.Registration,
		Model:        req.Model,
		TotalHours:   req.TotalHours,
	}
	if err := a.svc.RegisterAircraft(c.Request.Context(), aircraft); err != nil {
		a.fail(c, err)
		return
	}
	Created(c, aircraft)
}

func (a *API) GetAircraft(c *gin.Context) {
	aircraft, err := a.svc.Aircraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	Success(c, aircraft)
}

// UpdateHoursRequest moves an aircraft's usage counter
type UpdateHoursRequest struct {
	TotalHours *float64 `json:"total_hours" binding:"required"`
	Propagate  *bool    `json:"propagate"`
	Reason     string   `json:"reason"`
	Notes      string   `json:"notes"`
}

// UpdateHours applies a usage update. Propagation defaults to on.
func (a *API) UpdateHours(c *gin.Context) {
	var req UpdateHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	propagate := true
	if req.Propagate != nil {
		propagate = *req.Propagate
	}

	res, err := a.svc.ApplyUsageUpdate(c.Request.Context(), propagation.UsageUpdate{
		AircraftID:    c.Param("id"),
		NewTotalHours: *req.TotalHours,
		Propagate:     propagate,
		Reason:        req.Reason,
		Notes:         req.Notes,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	Success(c, res)
}

// RetryRequest re-applies the delta reported in a previous update's
// failed list
type RetryRequest struct {
	Delta        *float64 `json:"delta" binding:"required"`
	ComponentIDs []string `json:"component_ids" binding:"required,min=1"`
	Reason       string   `json:"reason"`
}

func (a *API) RetryComponents(c *gin.Context) {
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.svc.RetryComponents(c.Request.Context(), propagation.RetryRequest{
		AircraftID:   c.Param("id"),
		Delta:        *req.Delta,
		ComponentIDs: req.ComponentIDs,
		Reason:       req.Reason,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	Success(c, res)
}

// ThresholdRequest is the wire form of a threshold config
type ThresholdRequest struct {
	Enabled      *bool             `json:"enabled"`
	Unit         models.Unit       `json:"unit"`
	Limit        float64           `json:"limit"`
	Boundaries   models.Boundaries `json:"boundaries"`
	Descriptions map[string]string `json:"descriptions"`
}

// CreateComponentRequest adds a component to an aircraft
type CreateComponentRequest struct {
	ID           string           `json:"id"`
	Name         string           `json:"name" binding:"required"`
	Kind         string           `json:"kind"`
	SerialNumber string           `json:"serial_number"`
	Usage        float64          `json:"usage" binding:"gte=0"`
	Thresholds   ThresholdRequest `json:"thresholds"`
}

func (a *API) CreateComponent(c *gin.Context) {
	var req CreateComponentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error())
		return
	}

	thresholds, err := req.Thresholds.toConfig()
	if err != nil {
		a.fail(c, err)
		return
	}

	comp := &models.Component{
		ID:           req.ID,
		AircraftID:   c.Param("id"),
		Name:         req.Name,
		Kind:         models.ComponentKind(req.Kind),
		SerialNumber: req.SerialNumber,
		Usage:        req.Usage,
		Thresholds:   thresholds,
	}
	if err := a.svc.AddComponent(c.Request.Context(), comp); err != nil {
		a.fail(c, err)
		return
	}
	Created(c, comp)
}

// toConfig converts the request. Thresholds are enabled unless the caller
// says otherwise.
func (t ThresholdRequest) toConfig() (models.ThresholdConfig, error) {
	cfg := models.ThresholdConfig{
		Enabled:    t.Enabled == nil || *t.Enabled,
		Unit:       t.Unit,
		Limit:      t.Limit,
		Boundaries: t.Boundaries,
	}
	if len(t.Descriptions) > 0 {
		cfg.Descriptions = make(map[models.Level]string, len(t.Descriptions))
		for name, text := range t.Descriptions {
			level, err := models.ParseLevel(name)
			if err != nil {
				return models.ThresholdConfig{}, err
			}
			cfg.Descriptions[level] = text
		}
	}
	return cfg, nil
}

func (a *API) ListComponents(c *gin.Context) {
	components, err := a.svc.Components(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	Success(c, components)
}

// Alerts evaluates every component of the aircraft, most urgent first
func (a *API) Alerts(c *gin.Context) {
	list, err := a.svc.AircraftAlerts(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	attention := 0
	for _, al := range list {
		if al.Alert.RequiresAttention {
			attention++
		}
	}
	Success(c, gin.H{
		"aircraft_id":        c.Param("id"),
		"requires_attention": attention,
		"alerts":             list,
	})
}

// ResetRequest records why a component was reset
type ResetRequest struct {
	Reason string `json:"reason"`
}

func (a *API) ResetComponent(c *gin.Context) {
	var req ResetRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	comp, err := a.svc.ResetComponent(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		a.fail(c, err)
		return
	}
	Success(c, comp)
}

func (a *API) fail(c *gin.Context, err error) {
	if StatusOf(err) >= http.StatusInternalServerError {
		log := logger.WithRequestID(c.GetHeader("X-Request-ID"))
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	FromError(c, err)
}
