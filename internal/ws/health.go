package ws

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
	Threads       int32   `json:"threads,omitempty"`
	Subscribers   int     `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Subscribers:   s.tracker.Subscribers(),
	}

	// Process stats are best effort; health stays ok without them.
	if proc, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if n, err := proc.NumThreadsWithContext(r.Context()); err == nil {
			resp.Threads = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
