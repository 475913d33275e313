package histogram

const (
	// DefaultGapThresholdMinutes is used when a gap request names none.
	DefaultGapThresholdMinutes = 30
	// DefaultWindowMinutes is the burst window used when none is given.
	DefaultWindowMinutes = 5
	// DefaultMultiplier flags windows above this multiple of the baseline.
	DefaultMultiplier = 3.0
	// MaxWindows bounds the sparkline. Wider ranges get wider windows.
	MaxWindows = 50000
)

const minuteLayout = "2006-01-02T15:04"
