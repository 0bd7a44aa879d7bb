package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"iptoasn/internal/app/version"
	"iptoasn/internal/asn"
	"iptoasn/internal/domain"
	"iptoasn/internal/jobs/runtime"
)

const statusHistoryLimit = 20

type datasetStatus struct {
	asn.Stats
	Digest   string    `json:"digest"`
	Origin   string    `json:"origin"`
	LoadedAt time.Time `json:"loaded_at"`
}

type lastLoadStatus struct {
	Outcome    string    `json:"outcome"`
	Origin     string    `json:"origin"`
	Digest     string    `json:"digest,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type statusResponse struct {
	Version   version.Info            `json:"version"`
	Dataset   *datasetStatus          `json:"dataset"`
	LastLoad  *lastLoadStatus         `json:"last_load,omitempty"`
	History   []domain.DatasetLoad    `json:"history,omitempty"`
	Instances []runtime.InstanceState `json:"instances,omitempty"`
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok\n")
}

func (a *api) readyz(w http.ResponseWriter, _ *http.Request) {
	if a.Snapshots.Current() == nil {
		writeText(w, http.StatusServiceUnavailable, "not ready\n")
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (a *api) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: version.Get()}

	if snap := a.Snapshots.Current(); snap != nil {
		resp.Dataset = &datasetStatus{
			Stats:    snap.Stats(),
			Digest:   snap.DigestHex(),
			Origin:   snap.Origin(),
			LoadedAt: snap.LoadedAt(),
		}
	}

	if report, ok := a.Snapshots.LastReport(); ok {
		last := &lastLoadStatus{
			Outcome:    report.Outcome,
			Origin:     report.Origin,
			Digest:     report.Digest,
			DurationMs: report.Duration.Milliseconds(),
			At:         report.At,
		}
		if report.Err != nil {
			last.Error = report.Err.Error()
		}
		resp.LastLoad = last
	}

	if a.History != nil {
		history, err := a.History(r.Context(), statusHistoryLimit)
		if err != nil {
			log.Warn("Failed to list dataset load history", "error", err)
		} else {
			resp.History = history
		}
	}

	if a.Instances != nil {
		instances, err := a.Instances(r.Context())
		if err != nil {
			log.Warn("Failed to list instances", "error", err)
		} else {
			resp.Instances = instances
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
