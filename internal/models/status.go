package models

import "time"

type TaskState string

const (
	StateStarting      TaskState = "starting"
	StateLinksResolved TaskState = "links_resolved"
	StateCompressing   TaskState = "compressing"
	StateUploading     TaskState = "uploading"
	StateCompleted     TaskState = "completed"
	StateFailed        TaskState = "failed"
)

// TaskStatus is the full state written to the status store on every update.
// Terminal states carry Result instead of progress counters.
type TaskStatus struct {
	CacheKey  string       `json:"cache_key"`
	State     TaskState    `json:"state"`
	Done      int          `json:"done,omitempty"`
	Total     int          `json:"total,omitempty"`
	Message   string       `json:"message,omitempty"`
	Result    *BatchResult `json:"result,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
}
