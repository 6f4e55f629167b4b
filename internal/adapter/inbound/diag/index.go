package diag

import (
	"net/http"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/route"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// RouteLister lists routes in dispatch order.
type RouteLister interface {
	Routes() []route.RouteInfo
}

type indexPage struct {
	Name    string            `json:"name"`
	Version string            `json:"version,omitempty"`
	Routes  []route.RouteInfo `json:"routes"`
}

func indexHandler(routes RouteLister, version string) response.Response {
	return response.Cached(response.Func(func(*session.Params) response.WireResponse {
		return response.JSON(http.StatusOK, indexPage{
			Name:    "diagscope",
			Version: version,
			Routes:  routes.Routes(),
		})
	}))
}
