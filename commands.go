package nest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// putShared posts a JSON patch against the shared.<serial> object.
func (c *Client) putShared(ctx context.Context, serial string, patch map[string]any) error {
	_, err := c.post(ctx, "/v2/put/shared."+serial, patch)
	return err
}

// putDevice posts a JSON patch against the device.<serial> object.
func (c *Client) putDevice(ctx context.Context, serial string, patch map[string]any) error {
	_, err := c.post(ctx, "/v2/put/device."+serial, patch)
	return err
}

// SetTargetTemperature sets the single target setpoint, given in the
// device's preferred scale. An empty serial selects the default device.
func (c *Client) SetTargetTemperature(ctx context.Context, serial string, temperature float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	celsius, err := c.TemperatureInCelsius(ctx, temperature, serial)
	if err != nil {
		return err
	}
	return c.putShared(ctx, serial, map[string]any{
		"target_change_pending": true,
		"target_temperature":    celsius,
	})
}

// SetTargetTemperatures sets the low/high range setpoints, given in the
// device's preferred scale.
func (c *Client) SetTargetTemperatures(ctx context.Context, serial string, low, high float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	lowC, err := c.TemperatureInCelsius(ctx, low, serial)
	if err != nil {
		return err
	}
	highC, err := c.TemperatureInCelsius(ctx, high, serial)
	if err != nil {
		return err
	}
	return c.putShared(ctx, serial, map[string]any{
		"target_change_pending":   true,
		"target_temperature_low":  lowC,
		"target_temperature_high": highC,
	})
}

// SetTargetTemperatureMode switches the target mode, applying setpoints
// first: two temperatures for TargetModeRange, one for heat/cool, none for
// TargetModeOff.
func (c *Client) SetTargetTemperatureMode(ctx context.Context, serial string, mode TargetMode, temperatures ...float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}

	switch mode {
	case TargetModeRange:
		if len(temperatures) != 2 {
			return fmt.Errorf("%w: mode %q needs a low and a high temperature", ErrInvalidTemperatureArg, mode)
		}
		if err := c.SetTargetTemperatures(ctx, serial, temperatures[0], temperatures[1]); err != nil {
			return err
		}
	case TargetModeOff:
		if len(temperatures) != 0 {
			return fmt.Errorf("%w: mode %q takes no temperature", ErrInvalidTemperatureArg, mode)
		}
	default:
		if len(temperatures) != 1 {
			return fmt.Errorf("%w: mode %q needs exactly one temperature", ErrInvalidTemperatureArg, mode)
		}
		if err := c.SetTargetTemperature(ctx, serial, temperatures[0]); err != nil {
			return err
		}
	}

	return c.putShared(ctx, serial, map[string]any{
		"target_change_pending":   true,
		"target_temperature_type": string(mode),
	})
}

// TurnOff switches the thermostat's target mode off.
func (c *Client) TurnOff(ctx context.Context, serial string) error {
	return c.SetTargetTemperatureMode(ctx, serial, TargetModeOff)
}

// SetEcoMode switches between manual eco and the normal schedule.
func (c *Client) SetEcoMode(ctx context.Context, serial string, mode EcoMode) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{
		"eco": map[string]any{
			"mode":                  string(mode),
			"touched_by":            4,
			"mode_update_timestamp": time.Now().Unix(),
		},
	})
}

// SetEcoTemperatures sets the eco (away) low/high bounds, given in the
// device's preferred scale. A nil bound is left untouched. A low below 4°C
// disables the low bound; a high above 32°C disables the high bound (the
// service's own limits).
func (c *Client) SetEcoTemperatures(ctx context.Context, serial string, low, high *float64) error {
	return c.SetAwayTemperatures(ctx, serial, low, high)
}

// SetAwayTemperatures is the legacy name for SetEcoTemperatures.
func (c *Client) SetAwayTemperatures(ctx context.Context, serial string, low, high *float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}

	patch := map[string]any{}
	if low != nil {
		celsius, err := c.TemperatureInCelsius(ctx, *low, serial)
		if err != nil {
			return err
		}
		if celsius < 4 {
			patch["away_temperature_low_enabled"] = false
		} else {
			patch["away_temperature_low_enabled"] = true
			patch["away_temperature_low"] = celsius
		}
	}
	if high != nil {
		celsius, err := c.TemperatureInCelsius(ctx, *high, serial)
		if err != nil {
			return err
		}
		if celsius > 32 {
			patch["away_temperature_high_enabled"] = false
		} else {
			patch["away_temperature_high_enabled"] = true
			patch["away_temperature_high"] = celsius
		}
	}
	if len(patch) == 0 {
		return nil
	}
	return c.putDevice(ctx, serial, patch)
}

// SetFanMode sets the fan operating mode.
func (c *Client) SetFanMode(ctx context.Context, serial string, mode FanMode) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"fan_mode": string(mode)})
}

// SetFanDutyCycle runs the fan a number of seconds per hour
// (FanModeDutyCycle with the given duty cycle).
func (c *Client) SetFanDutyCycle(ctx context.Context, serial string, secondsPerHour int) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{
		"fan_mode":       string(FanModeDutyCycle),
		"fan_duty_cycle": secondsPerHour,
	})
}

// SetFanTimer turns the fan on for the given duration.
func (c *Client) SetFanTimer(ctx context.Context, serial string, d time.Duration) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	seconds := int(d.Seconds())
	return c.putDevice(ctx, serial, map[string]any{
		"fan_mode":           string(FanModeOn),
		"fan_timer_duration": seconds,
		"fan_timer_timeout":  time.Now().Unix() + int64(seconds),
	})
}

// CancelFanTimer cancels a running fan timer.
func (c *Client) CancelFanTimer(ctx context.Context, serial string) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"fan_timer_timeout": 0})
}

// SetFanEveryDaySchedule sets the daily window (whole hours) the duty-cycled
// fan is allowed to run in.
func (c *Client) SetFanEveryDaySchedule(ctx context.Context, serial string, startHour, endHour int) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{
		"fan_duty_start_time": startHour * 3600,
		"fan_duty_end_time":   endHour * 3600,
	})
}

// SetAway sets the away flag on the device's structure.
func (c *Client) SetAway(ctx context.Context, serial string, away bool) error {
	device, err := c.DeviceInfo(ctx, serial)
	if err != nil {
		return err
	}
	if device.StructureID == "" {
		return ErrEmptyStructureID
	}
	_, err = c.post(ctx, "/v2/put/structure."+device.StructureID, map[string]any{
		"away":           away,
		"away_timestamp": time.Now().Unix(),
		"away_setter":    0,
	})
	return err
}

// SetAutoAwayEnabled enables or disables the thermostat's auto-away
// detection.
func (c *Client) SetAutoAwayEnabled(ctx context.Context, serial string, enabled bool) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"auto_away_enable": enabled})
}

// SetDualFuelBreakpoint sets the outdoor temperature (device scale) below
// which the alternate heat source takes over.
func (c *Client) SetDualFuelBreakpoint(ctx context.Context, serial string, temperature float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	celsius, err := c.TemperatureInCelsius(ctx, temperature, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{
		"dual_fuel_breakpoint_override": "none",
		"dual_fuel_breakpoint":          celsius,
	})
}

// SetDualFuelBreakpointOverride forces the dual-fuel selection:
// "always-primary" or "always-alt".
func (c *Client) SetDualFuelBreakpointOverride(ctx context.Context, serial, override string) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"dual_fuel_breakpoint_override": override})
}

// EnableHumidifier enables or disables humidity targeting.
func (c *Client) EnableHumidifier(ctx context.Context, serial string, enabled bool) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"target_humidity_enabled": enabled})
}

// SetHumidity sets the target humidity percentage.
func (c *Client) SetHumidity(ctx context.Context, serial string, humidity float64) error {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return err
	}
	return c.putDevice(ctx, serial, map[string]any{"target_humidity": humidity})
}

// EnergyLatest requests the latest energy report for a device and returns
// the raw payload.
func (c *Client) EnergyLatest(ctx context.Context, serial string) (json.RawMessage, error) {
	serial, err := c.DefaultSerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, "/v5/subscribe", map[string]any{
		"objects": []map[string]any{
			{"object_key": "energy_latest." + serial},
		},
	})
}
