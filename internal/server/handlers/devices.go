package handlers

import (
	"net/http"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/device"
)

// ListDevices handles GET /api/devices/list requests.
//
// Returns the detected accelerators with their allocation status plus
// host CPU capabilities relevant to training.
//
// Response: 200 OK
//
//	{
//	  "devices": [{"type": "cuda", "index": 0, "allocated": false, ...}],
//	  "host": {"cpu_brand": "...", "avx512": true, ...}
//	}
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.WriteJSON(w, api.ListDevicesResponse{
		Devices: h.manager.Devices(),
		Host:    device.HostInfo(),
	}, http.StatusOK)
}
