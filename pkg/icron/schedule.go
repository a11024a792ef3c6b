// Package icron adds small helpers over robfig/cron schedules.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextRun returns the first trigger of a standard 5-field cron expression
// after refTime.
func NextRun(cronExpr string, refTime time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(refTime), nil
}
