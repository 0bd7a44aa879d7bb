package server

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"iptoasn/internal/config"
)

type reloadResponse struct {
	Reloaded  bool   `json:"reloaded"`
	Unchanged bool   `json:"unchanged"`
	Error     string `json:"error,omitempty"`
}

func (a *api) reload(w http.ResponseWriter, r *http.Request) {
	result, err := a.Snapshots.Reload(r.Context())
	if err != nil {
		log.Warn("Manual database reload failed, continuing with existing data", "error", err)
		writeJSON(w, http.StatusBadGateway, reloadResponse{Error: err.Error()})
		return
	}

	log.Info("Manual database reload finished", "installed", result.Installed, "unchanged", result.Unchanged)
	writeJSON(w, http.StatusOK, reloadResponse{Reloaded: result.Installed, Unchanged: result.Unchanged})
}

func getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		log.Error("Error decoding request body", "error", err)
		writeError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := config.SetConfig(newConfig); err != nil {
		log.Error("Failed to save settings", "error", err)
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Configuration updated successfully"})
}
