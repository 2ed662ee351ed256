package supervisor

import "time"

// Status is the lifecycle status of a supervised process. Transitions within
// one start/stop cycle are monotonic: Stopped → Starting → Running|Failed → Stopped.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusRecord is a point-in-time snapshot of one process's state.
type StatusRecord struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Port        int       `json:"port"`
	PID         int       `json:"pid,omitempty"`
	Restarts    int       `json:"restart_count"`
	LastError   string    `json:"last_error,omitempty"`
	LastStartAt time.Time `json:"last_start_at,omitempty"`
}
