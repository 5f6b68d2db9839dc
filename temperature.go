package nest

import (
	"context"
	"strings"
)

// fromCelsius converts a Celsius value to the given scale.
func fromCelsius(celsius float64, scale TemperatureScale) float64 {
	if scale == ScaleFahrenheit {
		return celsius*1.8 + 32
	}
	return celsius
}

// toCelsius converts a value in the given scale to Celsius.
func toCelsius(value float64, scale TemperatureScale) float64 {
	if scale == ScaleFahrenheit {
		return (value - 32) / 1.8
	}
	return value
}

// DeviceTemperatureScale returns the device's preferred temperature scale.
// An empty serial selects the default device.
func (c *Client) DeviceTemperatureScale(ctx context.Context, serial string) (TemperatureScale, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return deviceScale(snapshot, serial)
}

// deviceScale is the pure scale lookup over a snapshot.
func deviceScale(snapshot Snapshot, serial string) (TemperatureScale, error) {
	serial, err := defaultSerial(snapshot, serial)
	if err != nil {
		return "", err
	}
	var dev deviceObject
	if err := snapshot.decode("device", serial, &dev); err != nil {
		return "", err
	}
	if strings.EqualFold(dev.TemperatureScale, string(ScaleFahrenheit)) {
		return ScaleFahrenheit, nil
	}
	return ScaleCelsius, nil
}

// TemperatureInCelsius converts a user-facing temperature to Celsius using
// the device's preferred scale. This is the single conversion path every
// write operation goes through, so values round-trip consistently with
// TemperatureInUserScale.
func (c *Client) TemperatureInCelsius(ctx context.Context, temperature float64, serial string) (float64, error) {
	scale, err := c.DeviceTemperatureScale(ctx, serial)
	if err != nil {
		return 0, err
	}
	return toCelsius(temperature, scale), nil
}

// TemperatureInUserScale converts a Celsius value to the device's preferred
// scale. This is the single conversion path every read projection goes
// through.
func (c *Client) TemperatureInUserScale(ctx context.Context, celsius float64, serial string) (float64, error) {
	scale, err := c.DeviceTemperatureScale(ctx, serial)
	if err != nil {
		return 0, err
	}
	return fromCelsius(celsius, scale), nil
}
