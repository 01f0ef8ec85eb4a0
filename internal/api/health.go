package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/gaspardpetit/mms-asr/internal/inflight"
	"github.com/gaspardpetit/mms-asr/internal/logx"
	"github.com/gaspardpetit/mms-asr/internal/serverstate"
)

// FreeBytesFunc returns the free space of the filesystem holding path.
type FreeBytesFunc func(path string) (uint64, error)

// DiskFree reports free space with gopsutil.
func DiskFree(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// Health serves /healthz.
type Health struct {
	State *serverstate.State
	// TempDir is where uploads are staged; os.TempDir() when empty.
	TempDir      string
	MinFreeBytes uint64
	FreeBytes    FreeBytesFunc
	// Jobs, when set, reports running transcriptions.
	Jobs *inflight.Tracker
}

type healthBody struct {
	Status           string `json:"status"`
	TempDirFreeBytes uint64 `json:"temp_dir_free_bytes"`
	InflightJobs     int     `json:"inflight_jobs"`
	OldestJobSeconds float64 `json:"oldest_job_seconds,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok"}
	code := http.StatusOK
	if h.State != nil && h.State.IsDraining() {
		body.Status = serverstate.StatusDraining
		code = http.StatusServiceUnavailable
	}

	dir := h.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	free := h.FreeBytes
	if free == nil {
		free = DiskFree
	}
	n, err := free(dir)
	switch {
	case err != nil:
		logx.Log.Warn().Err(err).Str("dir", dir).Msg("disk usage")
		body.Status = "unavailable"
		body.Error = "temp dir unavailable"
		code = http.StatusServiceUnavailable
	case n < h.MinFreeBytes:
		body.Status = "unavailable"
		body.Error = "low disk space"
		code = http.StatusServiceUnavailable
	}
	body.TempDirFreeBytes = n
	if h.Jobs != nil {
		body.InflightJobs = h.Jobs.Count()
		if j, ok := h.Jobs.Oldest(); ok {
			body.OldestJobSeconds = time.Since(j.Started).Seconds()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Log.Error().Err(err).Msg("write health")
	}
}
