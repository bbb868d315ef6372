package storefwd

import (
	"sync"
	"time"

	"github.com/rzpsarthak13/storefwd/internal/dispatch"
)

// sizeHistoryLimit is how many queue-size samples Stats keeps.
const sizeHistoryLimit = 100

// Stats is a detailed view of the engine for monitoring.
type Stats struct {
	TotalEnqueued int64 `json:"total_enqueued"`
	TotalSynced   int64 `json:"total_synced"`
	TotalErrors   int64 `json:"total_errors"`
	TotalDropped  int64 `json:"total_dropped"`
	TotalExpired  int   `json:"total_expired"`
	TotalEvicted  int   `json:"total_evicted"`
	SyncCycles    int64 `json:"sync_cycles"`

	// Conflicts counts realtime changes that met a queued local operation.
	ConflictsLocal  int64 `json:"conflicts_local"`
	ConflictsRemote int64 `json:"conflicts_remote"`

	// RemoteApplied counts remote changes handed to the local mirror.
	RemoteApplied int64 `json:"remote_applied"`

	AverageSyncDuration time.Duration `json:"average_sync_duration"`
	QueueSizeHistory    []int         `json:"queue_size_history"`
	AverageQueueSize    float64       `json:"average_queue_size"`
	CurrentQueueSize    int           `json:"current_queue_size"`
	CurrentInterval     time.Duration `json:"current_interval"`

	LastSync    time.Time `json:"last_sync"`
	LastCleanup time.Time `json:"last_cleanup"`

	SyncInProgress        bool  `json:"sync_in_progress"`
	RealtimeSubscriptions int   `json:"realtime_subscriptions"`
	RealtimeEvents        int64 `json:"realtime_events"`
}

type statsRecorder struct {
	mu sync.Mutex

	enqueued        int64
	synced          int64
	errors          int64
	dropped         int64
	cycles          int64
	totalDuration   time.Duration
	conflictsLocal  int64
	conflictsRemote int64
	applied         int64
	sizes           []int
}

func (r *statsRecorder) enqueue() {
	r.mu.Lock()
	r.enqueued++
	r.mu.Unlock()
}

func (r *statsRecorder) sample(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
	if len(r.sizes) > sizeHistoryLimit {
		r.sizes = r.sizes[len(r.sizes)-sizeHistoryLimit:]
	}
}

func (r *statsRecorder) cycle(res dispatch.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
	r.synced += int64(res.Synced)
	r.errors += int64(res.Errored)
	r.dropped += int64(res.Dropped)
	r.totalDuration += res.Duration
}

func (r *statsRecorder) conflict(remoteWon bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if remoteWon {
		r.conflictsRemote++
	} else {
		r.conflictsLocal++
	}
}

func (r *statsRecorder) apply() {
	r.mu.Lock()
	r.applied++
	r.mu.Unlock()
}

// fill copies the recorded totals into st.
func (r *statsRecorder) fill(st *Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st.TotalEnqueued = r.enqueued
	st.TotalSynced = r.synced
	st.TotalErrors = r.errors
	st.TotalDropped = r.dropped
	st.SyncCycles = r.cycles
	st.ConflictsLocal = r.conflictsLocal
	st.ConflictsRemote = r.conflictsRemote
	st.RemoteApplied = r.applied

	if r.cycles > 0 {
		st.AverageSyncDuration = r.totalDuration / time.Duration(r.cycles)
	}

	st.QueueSizeHistory = append([]int(nil), r.sizes...)
	if len(r.sizes) > 0 {
		sum := 0
		for _, n := range r.sizes {
			sum += n
		}
		st.AverageQueueSize = float64(sum) / float64(len(r.sizes))
	}
}
