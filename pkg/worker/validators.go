package worker

import "time"

type UpdateJobConfigParams struct {
	Enabled  *bool          `json:"enabled,omitempty"`
	Interval *time.Duration `json:"interval,omitempty" validate:"omitempty,min=60000000000"` // at least 1 minute
}
