package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// RouteRegistrar is anything that mounts handlers on a mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// NewRouter mounts every registrar on one mux behind Instrument.
func NewRouter(logger *zap.Logger, registrars ...RouteRegistrar) http.Handler {
	mux := http.NewServeMux()
	for _, r := range registrars {
		r.RegisterRoutes(mux)
	}
	return Instrument(mux, logger)
}
