package controllers

import (
	"net/http"

	"github.com/mezeipetister/towl/internal/runtime"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
	"github.com/mezeipetister/towl/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	logs    *LogsController
}

// NewControllerRegistry initializes all controllers with the provided
// runtime and service.
func NewControllerRegistry(rt *runtime.Runtime, svc *logsvc.Service, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, svc),
		logs:    NewLogsController(svc, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.logs.RegisterRoutes(mux)
}
