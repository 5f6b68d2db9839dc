package nest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ScheduleEvent is one setpoint in a device's weekly schedule, in the
// device's preferred temperature scale.
type ScheduleEvent struct {
	// Time is minutes after midnight.
	Time int
	Mode TargetMode
	// TargetTemperature is set for heat/cool events; TargetLow/TargetHigh
	// for range events.
	TargetTemperature float64
	TargetLow         float64
	TargetHigh        float64
}

// WeekSchedule maps day names ("Mon".."Sun") to that day's setpoints sorted
// by time of day. Iterate with ScheduleDays for Monday-first order.
type WeekSchedule map[string][]ScheduleEvent

// ScheduleDays returns the fixed Monday-first day order for iterating a
// WeekSchedule.
func ScheduleDays() []string {
	days := make([]string, len(scheduleDays))
	copy(days, scheduleDays[:])
	return days
}

// scheduleEntry is the wire shape of one raw schedule entry.
type scheduleEntry struct {
	Time      float64 `json:"time"`
	EntryType string  `json:"entry_type"`
	Type      string  `json:"type"`
	Temp      float64 `json:"temp"`
	TempMin   float64 `json:"temp-min"`
	TempMax   float64 `json:"temp-max"`
}

// DeviceSchedule returns the device's weekly schedule: setpoint entries
// only, bucketed by weekday with the API's Monday-first day indexing mapped
// onto day names, sorted by time of day. An empty serial selects the default
// device.
func (c *Client) DeviceSchedule(ctx context.Context, serial string) (WeekSchedule, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	serial, err = defaultSerial(snapshot, serial)
	if err != nil {
		return nil, err
	}
	return deviceSchedule(snapshot, serial)
}

// deviceSchedule is the pure projection over a snapshot.
func deviceSchedule(snapshot Snapshot, serial string) (WeekSchedule, error) {
	var sched struct {
		Days map[string]json.RawMessage `json:"days"`
	}
	if err := snapshot.decode("schedule", serial, &sched); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoScheduleFound, serial)
	}

	scale, err := deviceScale(snapshot, serial)
	if err != nil {
		return nil, err
	}

	week := make(WeekSchedule)
	for day, rawEvents := range sched.Days {
		index, err := strconv.Atoi(day)
		if err != nil || index < 0 || index >= len(scheduleDays) {
			continue
		}
		events := buildDayEvents(rawEvents, scale)
		if len(events) > 0 {
			week[scheduleDays[index]] = events
		}
	}
	return week, nil
}

// buildDayEvents decodes one day's entries, keeps the setpoints, and sorts
// them by time of day. The wire sends either a list or an object of entries.
func buildDayEvents(raw json.RawMessage, scale TemperatureScale) []ScheduleEvent {
	var entries []scheduleEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		var keyed map[string]scheduleEntry
		if err := json.Unmarshal(raw, &keyed); err != nil {
			return nil
		}
		for _, e := range keyed {
			entries = append(entries, e)
		}
	}

	var events []ScheduleEvent
	for _, entry := range entries {
		if entry.EntryType != "setpoint" {
			continue
		}
		event := ScheduleEvent{Time: int(entry.Time) / 60}
		switch entry.Type {
		case "HEAT":
			event.Mode = TargetModeHeat
			event.TargetTemperature = fromCelsius(entry.Temp, scale)
		case "COOL":
			event.Mode = TargetModeCool
			event.TargetTemperature = fromCelsius(entry.Temp, scale)
		default:
			event.Mode = TargetModeRange
			event.TargetLow = fromCelsius(entry.TempMin, scale)
			event.TargetHigh = fromCelsius(entry.TempMax, scale)
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Time < events[j].Time })
	return events
}

// NextScheduledEvent returns the next setpoint after the current wall-clock
// time, scanning forward through the week and wrapping up to 7 days. Returns
// (nil, nil) when the schedule has no events at all.
func (c *Client) NextScheduledEvent(ctx context.Context, serial string) (*ScheduleEvent, error) {
	return c.nextScheduledEventAfter(ctx, serial, time.Now())
}

// nextScheduledEventAfter is NextScheduledEvent from an explicit reference
// time, for deterministic tests.
func (c *Client) nextScheduledEventAfter(ctx context.Context, serial string, now time.Time) (*ScheduleEvent, error) {
	schedule, err := c.DeviceSchedule(ctx, serial)
	if err != nil {
		return nil, err
	}
	return nextEvent(schedule, now), nil
}

// dayNames maps Go weekdays onto the schedule's day names.
var dayNames = map[time.Weekday]string{
	time.Monday:    "Mon",
	time.Tuesday:   "Tue",
	time.Wednesday: "Wed",
	time.Thursday:  "Thu",
	time.Friday:    "Fri",
	time.Saturday:  "Sat",
	time.Sunday:    "Sun",
}

// nextEvent is the pure scan over a schedule.
func nextEvent(schedule WeekSchedule, now time.Time) *ScheduleEvent {
	// Today only events later than the current minute count; on
	// following days the first event wins.
	minutes := now.Hour()*60 + now.Minute()
	for i := 0; i < 7; i++ {
		day := dayNames[now.AddDate(0, 0, i).Weekday()]
		for _, event := range schedule[day] {
			if event.Time > minutes {
				e := event
				return &e
			}
		}
		minutes = -1
	}
	return nil
}
