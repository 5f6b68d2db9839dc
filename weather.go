package nest

import (
	"context"
	"encoding/json"
	"errors"
)

// Weather is the outside conditions reported by the forecast lookup.
// Fields are nil when the lookup soft-failed or reported nothing.
type Weather struct {
	// OutsideTemperature is in Celsius; convert with
	// TemperatureInUserScale for display.
	OutsideTemperature *float64
	OutsideHumidity    *float64
}

// Weather fetches current outside conditions by postal code. The endpoint
// is unauthenticated and notoriously flaky (502 pages are routine), so a
// malformed response is swallowed and reported as nil fields rather than an
// error.
func (c *Client) Weather(ctx context.Context, postalCode, countryCode string) (*Weather, error) {
	url := weatherPath + postalCode
	if countryCode != "" {
		url += "," + countryCode
	}

	raw, err := c.get(ctx, url)
	if err != nil {
		var respErr *ResponseError
		if errors.As(err, &respErr) && respErr.Kind == ResponseNotJSON {
			return &Weather{}, nil
		}
		return nil, err
	}

	var forecast struct {
		Now *struct {
			CurrentTemperature float64 `json:"current_temperature"`
			CurrentHumidity    float64 `json:"current_humidity"`
		} `json:"now"`
	}
	if err := json.Unmarshal(raw, &forecast); err != nil || forecast.Now == nil {
		return &Weather{}, nil
	}

	temperature := forecast.Now.CurrentTemperature
	humidity := forecast.Now.CurrentHumidity
	return &Weather{OutsideTemperature: &temperature, OutsideHumidity: &humidity}, nil
}
