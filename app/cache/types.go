package cache

// Logger interface for cache logging
type Logger interface {
	Log(level, message string)
}

// Stats is a snapshot of count cache activity.
type Stats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}
