package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/piewallah/pw-gateway/internal/proxy"
)

// Connectivity reports upstream reachability.
type Connectivity interface {
	Online() bool
}

// HealthHandler reports the gateway's own liveness plus what it knows
// about the upstream. The gateway answers 200 even when the upstream is
// down so load balancers keep it in rotation.
type HealthHandler struct {
	Net      Connectivity
	Breakers *proxy.Breakers
	Families []string
}

func (h *HealthHandler) Health(c echo.Context) error {
	upstream := "unknown"
	if h.Net != nil {
		upstream = "offline"
		if h.Net.Online() {
			upstream = "online"
		}
	}
	breakers := make(map[string]string, len(h.Families))
	for _, f := range h.Families {
		breakers[f] = h.Breakers.State(f)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":   "ok",
		"upstream": upstream,
		"breakers": breakers,
	})
}
