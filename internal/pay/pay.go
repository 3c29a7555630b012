package pay

import (
	"math"
	"time"
)

const (
	BaseWage   = 10000
	HourlyWage = 10000
)

type Result struct {
	WorkHours int `json:"work_hours"`
	Wage      int `json:"wage"`
}

// Compute derives whole worked hours and wage from an IN/OUT pair.
//
// Hours are floored. Any completed hour earns the base plus the hourly rate
// per hour; less than one completed hour earns nothing. Negative durations
// count as zero.
func Compute(in, out *time.Time) Result {
	if in == nil || out == nil {
		return Result{}
	}
	raw := math.Max(0, out.Sub(*in).Hours())
	hours := int(math.Floor(raw))
	if hours <= 0 {
		return Result{}
	}
	return Result{WorkHours: hours, Wage: hours*HourlyWage + BaseWage}
}
