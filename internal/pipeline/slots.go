package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// Slot allocation constants. The smart-mode values are deliberate,
// inherited behavior: only the top 5 ranked hours are ever used
// (cycling), every 3rd item advances the running day, minutes are
// jittered uniformly, and a slot in the past is pushed forward exactly
// one day. Do not "fix" them.
const (
	leadTime         = 10 * time.Minute
	smartTopHours    = 5
	smartItemsPerDay = 3
)

// ManualSlots emits count timestamps on a fixed cadence.
//
// Starting from StartDate at StartTime, each emission advances the
// running clock by IntervalMinutes; when the advanced time-of-day passes
// EndTime the clock rolls to the next calendar day at StartTime. The
// result is strictly increasing in queue order.
func ManualSlots(cfg ScheduleConfig, count int) []time.Time {
	out := make([]time.Time, 0, count)
	running := atTime(cfg.StartDate, cfg.StartTime)
	for i := 0; i < count; i++ {
		out = append(out, running)
		running = running.Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
		tod := TimeOfDay{Hour: running.Hour(), Minute: running.Minute()}
		if tod.After(cfg.EndTime) {
			running = atTime(running.AddDate(0, 0, 1), cfg.StartTime)
		}
	}
	return out
}

// SmartSlots builds count timestamps from engagement-ranked hours.
//
// Hours are ranked by weight descending; candidates cycle through the
// top 5, starting tomorrow, three items per day, with a random minute.
// A candidate closer than the lead time is pushed forward one day
// (single correction; dispatch re-checks independently). The result is
// sorted ascending.
func SmartSlots(weights [24]float64, count int, now time.Time, rng *rand.Rand) []time.Time {
	ranked := rankHours(weights)
	day := now.AddDate(0, 0, 1)
	cutoff := now.Add(leadTime)

	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		if i > 0 && i%smartItemsPerDay == 0 {
			day = day.AddDate(0, 0, 1)
		}
		hour := ranked[i%smartTopHours]
		minute := rng.Intn(60)
		cand := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if cand.Before(cutoff) {
			cand = cand.AddDate(0, 0, 1)
		}
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// rankHours returns all 24 hours sorted by weight descending.
// Ties keep hour order so ranking is deterministic.
func rankHours(weights [24]float64) [24]int {
	var hours [24]int
	for h := range hours {
		hours[h] = h
	}
	sort.SliceStable(hours[:], func(i, j int) bool {
		return weights[hours[i]] > weights[hours[j]]
	})
	return hours
}

func atTime(date time.Time, tod TimeOfDay) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), tod.Hour, tod.Minute, 0, 0, date.Location())
}

// generateSlots produces one slot per queue item for the request.
func (s *Service) generateSlots(ctx context.Context, req RunRequest) ([]time.Time, error) {
	count := len(req.Queue)
	switch req.Schedule.Mode {
	case ModeManual:
		return ManualSlots(req.Schedule, count), nil
	case ModeSmart:
		if s.analytics == nil {
			return nil, fmt.Errorf("smart schedule requires the analytics collaborator")
		}
		weights, err := s.analytics.HourlyEngagement(ctx, req.Destination)
		if err != nil {
			return nil, fmt.Errorf("hourly engagement: %w", err)
		}
		rng := rand.New(rand.NewSource(s.now().UnixNano()))
		return SmartSlots(weights, count, s.now(), rng), nil
	default:
		return nil, fmt.Errorf("unknown schedule mode %q", req.Schedule.Mode)
	}
}
