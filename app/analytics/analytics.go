// Package analytics computes value-level summaries over the rows a query
// request selects: per-source coverage, value stacking and indicator
// matching. Every function honours the request's filters.
package analytics

import (
	"casefile/app/settings"
)

// Options bounds the analytics.
type Options struct {
	// StackMaxValues caps the number of values a stack returns.
	StackMaxValues int
	// IOCBatchPatterns is the most indicators joined into one alternation.
	IOCBatchPatterns int
	// IOCMaxPatternBytes caps the length of one alternation.
	IOCMaxPatternBytes int
}

// OptionsFromSettings maps engine settings onto analytics options.
func OptionsFromSettings(s settings.Settings) Options {
	return Options{
		StackMaxValues:     s.StackMaxValues,
		IOCBatchPatterns:   s.IOCBatchPatterns,
		IOCMaxPatternBytes: s.IOCMaxPatternBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.StackMaxValues <= 0 {
		o.StackMaxValues = 10000
	}
	if o.IOCBatchPatterns <= 0 {
		o.IOCBatchPatterns = 50
	}
	if o.IOCMaxPatternBytes <= 0 {
		o.IOCMaxPatternBytes = 8192
	}
	return o
}
