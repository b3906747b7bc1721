package controllers

import (
	"net/http"

	"github.com/mezeipetister/towl/internal/runtime"
	logsvc "github.com/mezeipetister/towl/internal/services/logs"
)

// GeneralController handles service level endpoints: health and status.
type GeneralController struct {
	rt  *runtime.Runtime
	svc *logsvc.Service
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, svc *logsvc.Service) *GeneralController {
	return &GeneralController{rt: rt, svc: svc}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/status", c.handleStatus)
}

// handleHealth returns 200 OK with {"status": "ok"} if healthy, 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	st, err := c.svc.Status(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, statusResp{
		ActiveID:    st.ActiveID,
		ActiveCount: st.ActiveCount,
		Files:       st.Files,
		NextID:      st.NextID,
		Boundary:    st.Boundary,
		Policy:      st.Policy.String(),
		Quarantined: st.Quarantined,
		Archived:    st.Archived,
		Subscribers: st.Subscribers,
	})
}
