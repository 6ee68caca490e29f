package models

// AlertResult is derived from a usage counter and a ThresholdConfig.
// It is recomputed whenever either changes and never patched in place.
type AlertResult struct {
	Level             Level   `json:"level"`
	Description       string  `json:"description"`
	Remaining         float64 `json:"remaining"`
	PercentComplete   float64 `json:"percent_complete"`
	RequiresAttention bool    `json:"requires_attention"`
	Priority          int     `json:"priority"`
	Unit              Unit    `json:"unit"`

	// Applicable is false when the config is disabled and no boundary
	// comparison was made.
	Applicable bool `json:"applicable"`
}

// Equal compares two results field by field. Descriptions are included so
// that a config text edit refreshes the cached alert.
func (a AlertResult) Equal(b AlertResult) bool {
	return a.Level == b.Level &&
		a.Description == b.Description &&
		a.Remaining == b.Remaining &&
		a.PercentComplete == b.PercentComplete &&
		a.RequiresAttention == b.RequiresAttention &&
		a.Priority == b.Priority &&
		a.Unit == b.Unit &&
		a.Applicable == b.Applicable
}
