package nest

import (
	"context"
	"strings"
	"time"
)

// Location is a typed projection of one structure on the account.
type Location struct {
	ID          string
	Name        string
	Address     string
	City        string
	PostalCode  string
	CountryCode string

	Away            bool
	AwayLastChanged time.Time

	// Thermostats and Protects are the serial numbers of the devices at
	// this location.
	Thermostats []string
	Protects    []string

	// Outside conditions from the weather lookup, in the default
	// device's scale; nil when the lookup soft-failed.
	OutsideTemperature *float64
	OutsideHumidity    *float64
}

// Locations returns all structures on the account, each annotated with its
// devices and current outside conditions.
func (c *Client) Locations(ctx context.Context) ([]Location, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}

	scale := ScaleCelsius
	if s, err := deviceScale(snapshot, ""); err == nil {
		scale = s
	}

	var locations []Location
	for _, structureID := range structureIDs(snapshot) {
		var structure structureObject
		if err := snapshot.decode("structure", structureID, &structure); err != nil {
			return nil, err
		}

		location := Location{
			ID:          structureID,
			Name:        structure.Name,
			Address:     structure.StreetAddress,
			City:        structure.Location,
			PostalCode:  structure.PostalCode,
			CountryCode: structure.CountryCode,
			Away:        structure.Away,
		}
		if structure.AwayTimestamp > 0 {
			location.AwayLastChanged = time.Unix(structure.AwayTimestamp, 0)
		}

		for _, entry := range structure.Devices {
			if _, serial, ok := strings.Cut(entry, "."); ok {
				location.Thermostats = append(location.Thermostats, serial)
			}
		}
		for _, serial := range sortedIDs(snapshot["topaz"]) {
			var topaz topazObject
			if err := snapshot.decode("topaz", serial, &topaz); err == nil && topaz.StructureID == structureID {
				location.Protects = append(location.Protects, topaz.SerialNumber)
			}
		}

		if structure.PostalCode != "" {
			if weather, err := c.Weather(ctx, structure.PostalCode, structure.CountryCode); err == nil {
				if weather.OutsideTemperature != nil {
					v := fromCelsius(*weather.OutsideTemperature, scale)
					location.OutsideTemperature = &v
				}
				location.OutsideHumidity = weather.OutsideHumidity
			}
		}

		locations = append(locations, location)
	}
	return locations, nil
}
