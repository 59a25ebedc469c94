package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sandboxnotify/pkg/circuitbreaker"
	"sandboxnotify/pkg/health"
)

// storeGuard reports the state of a gobreaker guard in front of a backing
// store.
type storeGuard struct {
	name  string
	state func() string
}

type storeGuardStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// breakersResponse is served by GET /v1/breakers.
type breakersResponse struct {
	Delivery []circuitbreaker.Snapshot `json:"delivery"`
	Stores   []storeGuardStatus        `json:"stores"`
}

type adminHandler struct {
	health   *health.CheckerRegistry
	delivery []*circuitbreaker.Breaker
	stores   []storeGuard
}

func (h *adminHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.getHealth)
	router.GET("/v1/breakers", h.getBreakers)
}

func (h *adminHandler) getHealth(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, result)
}

func (h *adminHandler) getBreakers(c *gin.Context) {
	resp := breakersResponse{
		Delivery: make([]circuitbreaker.Snapshot, 0, len(h.delivery)),
		Stores:   make([]storeGuardStatus, 0, len(h.stores)),
	}
	for _, b := range h.delivery {
		resp.Delivery = append(resp.Delivery, b.Snapshot())
	}
	for _, s := range h.stores {
		resp.Stores = append(resp.Stores, storeGuardStatus{Name: s.name, State: s.state()})
	}
	c.JSON(http.StatusOK, resp)
}
