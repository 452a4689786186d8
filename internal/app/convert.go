package app

import (
	"fmt"
	"time"

	"postflow/internal/config"
	"postflow/internal/pipeline"
	"postflow/internal/publish"
)

// buildSchedule converts the raw config block into the pipeline's
// schedule. Manual mode requires date/times; smart mode ignores them.
func buildSchedule(raw config.ScheduleConfig) (pipeline.ScheduleConfig, error) {
	out := pipeline.ScheduleConfig{
		Mode:                 pipeline.Mode(raw.Mode),
		IntervalMinutes:      raw.IntervalMinutes,
		PlaceID:              raw.PlaceID,
		SmartScheduleEnabled: raw.SmartScheduleEnabled,
	}

	loc := time.Local
	if raw.Timezone != "" {
		l, err := time.LoadLocation(raw.Timezone)
		if err != nil {
			return out, fmt.Errorf("schedule.timezone: %w", err)
		}
		loc = l
	}

	if raw.StartDate != "" {
		d, err := time.ParseInLocation("2006-01-02", raw.StartDate, loc)
		if err != nil {
			return out, fmt.Errorf("schedule.start_date: %w", err)
		}
		out.StartDate = d
	}
	if raw.StartTime != "" {
		t, err := pipeline.ParseTimeOfDay(raw.StartTime)
		if err != nil {
			return out, fmt.Errorf("schedule.start_time: %w", err)
		}
		out.StartTime = t
	}
	if raw.EndTime != "" {
		t, err := pipeline.ParseTimeOfDay(raw.EndTime)
		if err != nil {
			return out, fmt.Errorf("schedule.end_time: %w", err)
		}
		out.EndTime = t
	}

	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

func buildDestination(raw config.DestinationConfig) publish.Destination {
	return publish.Destination{ID: raw.ID, Name: raw.Name}
}
