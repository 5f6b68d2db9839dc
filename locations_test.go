package nest

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocations(t *testing.T) {
	t.Run("structures with devices and weather", func(t *testing.T) {
		f := newFakeNest(t)
		doc := testStatusDocument()
		doc["structure"].(map[string]any)["s1"].(map[string]any)["away_timestamp"] = int64(1700000000)
		f.serveStatus(doc)
		f.mux.HandleFunc(weatherPath+"10011,US", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"now": map[string]any{
					"current_temperature": 12.0,
					"current_humidity":    70.0,
				},
			})
		})

		client := f.client(t)
		locations, err := client.Locations(context.Background())
		require.NoError(t, err)
		require.Len(t, locations, 1)

		loc := locations[0]
		assert.Equal(t, "s1", loc.ID)
		assert.Equal(t, "Home", loc.Name)
		assert.Equal(t, "1 Main St", loc.Address)
		assert.Equal(t, "New York", loc.City)
		assert.Equal(t, "10011", loc.PostalCode)
		assert.Equal(t, "US", loc.CountryCode)
		assert.False(t, loc.Away)
		assert.Equal(t, time.Unix(1700000000, 0), loc.AwayLastChanged)
		assert.Equal(t, []string{"THERM1"}, loc.Thermostats)
		assert.Equal(t, []string{"PROT1"}, loc.Protects)
		require.NotNil(t, loc.OutsideTemperature)
		assert.InDelta(t, 12.0, *loc.OutsideTemperature, 0.001)
		require.NotNil(t, loc.OutsideHumidity)
		assert.InDelta(t, 70.0, *loc.OutsideHumidity, 0.001)
	})

	t.Run("fahrenheit account converts outside temperature", func(t *testing.T) {
		f := newFakeNest(t)
		doc := testStatusDocument()
		doc["device"].(map[string]any)["THERM1"].(map[string]any)["temperature_scale"] = "F"
		f.serveStatus(doc)
		f.mux.HandleFunc(weatherPath+"10011,US", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"now": map[string]any{"current_temperature": 10.0, "current_humidity": 50.0},
			})
		})

		client := f.client(t)
		locations, err := client.Locations(context.Background())
		require.NoError(t, err)
		require.Len(t, locations, 1)
		require.NotNil(t, locations[0].OutsideTemperature)
		assert.InDelta(t, 50.0, *locations[0].OutsideTemperature, 0.001)
	})

	t.Run("weather failure leaves conditions nil", func(t *testing.T) {
		f := newFakeNest(t)
		f.serveStatus(testStatusDocument())
		f.mux.HandleFunc(weatherPath+"10011,US", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>502</html>"))
		})

		client := f.client(t)
		locations, err := client.Locations(context.Background())
		require.NoError(t, err)
		require.Len(t, locations, 1)
		assert.Nil(t, locations[0].OutsideTemperature)
		assert.Equal(t, "Home", locations[0].Name)
	})
}
