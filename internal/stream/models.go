package stream

import "time"

// Status is the lifecycle state of a session's transcoder.
type Status string

const (
	// StatusPending means the transcoder has been spawned but has not yet
	// produced a recognizable startup signal.
	StatusPending Status = "pending"
	// StatusActive means the transcoder is connected to the source and
	// writing segments.
	StatusActive Status = "active"
	// StatusError means the transcoder reported a failure or exited
	// abnormally; ErrorMessage carries the reason.
	StatusError Status = "error"
	// StatusStopped is broadcast as the session's final snapshot during
	// teardown; stopped sessions are removed from the registry, not retained.
	StatusStopped Status = "stopped"
)

// Quality selects the transcoder's encode ladder rung.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityAuto   Quality = "auto"
)

// ValidQuality reports whether q is one of the supported quality presets.
func ValidQuality(q Quality) bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh, QualityAuto:
		return true
	}
	return false
}

// Session is one source-to-HLS conversion task and its supervised transcoder.
// ID, SourceURL, PlaylistURL and Quality are immutable after creation; Status,
// ErrorMessage and LastUpdate are mutated only through Registry.SetStatus.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SourceURL    string    `json:"rtspUrl"`
	PlaylistURL  string    `json:"hlsUrl"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdate   time.Time `json:"lastUpdate"`
	Quality      Quality   `json:"quality"`
}

// CreateRequest is the input for creating a new session. Quality defaults to
// "auto" when empty.
type CreateRequest struct {
	Name      string  `json:"name"`
	SourceURL string  `json:"rtspUrl"`
	Quality   Quality `json:"quality,omitempty"`
}

// Stats is a point-in-time view of a running session.
type Stats struct {
	StreamID      string  `json:"streamId"`
	Viewers       int     `json:"viewers"`
	UptimeSeconds float64 `json:"uptime"`
	Segments      int     `json:"segments"`
}
