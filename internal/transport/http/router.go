// Package http exposes the fleet view and its operator actions over a gin
// router.
package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/auth"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/fleetstate"
	"fleet-monitor/geostream/internal/geofence"
	"fleet-monitor/geostream/internal/metrics"
	"fleet-monitor/geostream/internal/routing"
)

// maxGeofenceBody bounds a PUT /geofences document.
const maxGeofenceBody = 4 << 20

type geofenceLoader interface {
	LoadGeofences(fences []*domain.Geofence)
}

type reconnector interface {
	Reconnect() bool
}

type routeSelector interface {
	Select(id string)
	Current() (routing.Route, bool)
}

// Deps are the collaborators behind the API. Viewers may be nil.
type Deps struct {
	Store     *fleetstate.Store
	Geofences geofenceLoader
	Stream    reconnector
	Selector  routeSelector
	Auth      *auth.Authenticator
	Viewers   http.Handler
}

type handler struct {
	Deps
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	h := &handler{Deps: deps}
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapF(metrics.HandleMetrics))

	api := r.Group("")
	if deps.Auth != nil && deps.Auth.Enabled() {
		api.Use(NewAuthMiddleware(deps.Auth).Handle)
	} else {
		log.Warn().Msg("No API keys configured, fleet API is unauthenticated")
	}

	api.GET("/vehicles", h.listVehicles)
	api.GET("/vehicles/:id", h.getVehicle)

	api.GET("/alerts", h.listAlerts)
	api.POST("/alerts/read-all", h.markAllRead)
	api.POST("/alerts/:id/read", h.markRead)
	api.DELETE("/alerts/:id", h.dismissAlert)

	api.GET("/geofences", h.listGeofences)
	api.PUT("/geofences", h.replaceGeofences)

	api.GET("/selection", h.getSelection)
	api.PUT("/selection", h.putSelection)

	api.POST("/connection/reconnect", h.reconnect)

	if deps.Viewers != nil {
		api.GET("/ws", gin.WrapH(deps.Viewers))
	}
	return r
}

type healthResponse struct {
	fleetstate.Health
	Vehicles  int `json:"vehicles"`
	Geofences int `json:"geofences"`
	Unread    int `json:"unreadAlerts"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Health:    h.Store.Health(),
		Vehicles:  len(h.Store.Vehicles()),
		Geofences: len(h.Store.Geofences()),
		Unread:    h.Store.UnreadCount(),
	})
}

func (h *handler) listVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, h.Store.Vehicles())
}

func (h *handler) getVehicle(c *gin.Context) {
	v, ok := h.Store.Vehicle(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	c.JSON(http.StatusOK, v)
}

type alertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Unread int            `json:"unread"`
}

func (h *handler) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, alertsResponse{Alerts: h.Store.Alerts(), Unread: h.Store.UnreadCount()})
}

func (h *handler) markRead(c *gin.Context) {
	h.Store.MarkAlertRead(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *handler) markAllRead(c *gin.Context) {
	h.Store.MarkAllAlertsRead()
	c.Status(http.StatusNoContent)
}

func (h *handler) dismissAlert(c *gin.Context) {
	h.Store.DismissAlert(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *handler) listGeofences(c *gin.Context) {
	fences := h.Store.Geofences()
	if bbox := c.Query("bbox"); bbox != "" {
		viewport, err := geofence.ParseBBox(bbox)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fences = geofence.Cull(fences, viewport)
	}
	if fences == nil {
		fences = []*domain.Geofence{}
	}
	c.JSON(http.StatusOK, fences)
}

func (h *handler) replaceGeofences(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxGeofenceBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "geofence document too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	fences, err := geofence.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.Geofences.LoadGeofences(fences)
	log.Info().
		Str("operator", c.GetString(operatorKey)).
		Int("geofences", len(fences)).
		Msg("Geofences replaced")
	c.JSON(http.StatusOK, gin.H{"geofences": len(fences)})
}

type selectionRequest struct {
	VehicleID string `json:"vehicleId"`
}

type selectionResponse struct {
	VehicleID string         `json:"vehicleId"`
	Route     *routing.Route `json:"route,omitempty"`
}

func (h *handler) getSelection(c *gin.Context) {
	resp := selectionResponse{VehicleID: h.Store.Selected()}
	if r, ok := h.Selector.Current(); ok {
		resp.Route = &r
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) putSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid selection body"})
		return
	}
	if req.VehicleID != "" {
		if _, ok := h.Store.Vehicle(req.VehicleID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
			return
		}
	}
	h.Selector.Select(req.VehicleID)
	c.Status(http.StatusAccepted)
}

func (h *handler) reconnect(c *gin.Context) {
	if !h.Stream.Reconnect() {
		c.JSON(http.StatusConflict, gin.H{"error": "connection is open or being established"})
		return
	}
	log.Info().Str("operator", c.GetString(operatorKey)).Msg("Reconnect requested via API")
	c.Status(http.StatusAccepted)
}
