package nest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeNest is a local stand-in for both the account service and the
// per-session transport endpoint, sharing one URL.
type fakeNest struct {
	server *httptest.Server
	mux    *http.ServeMux

	logins      atomic.Int32
	accessToken atomic.Value // string handed out by the next login
}

func newFakeNest(t *testing.T) *fakeNest {
	t.Helper()
	f := &fakeNest{mux: http.NewServeMux()}
	f.accessToken.Store("token-1")
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	f.mux.HandleFunc("/user/login", func(w http.ResponseWriter, r *http.Request) {
		f.logins.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"urls":         map[string]string{"transport_url": f.server.URL},
			"access_token": f.accessToken.Load().(string),
			"userid":       "1234",
			"user":         "user.1234",
			"expires_in":   time.Now().Add(time.Hour).UTC().Format("Mon, 02-Jan-2006 15:04:05 MST"),
		})
	})
	return f
}

// client builds a password client wired to the fake, with an in-memory
// cache so tests never touch the shared temp directory.
func (f *fakeNest) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(f.server.URL),
		WithCacheStore(NewMemoryCacheStore()),
	}, opts...)
	c, err := NewPasswordClient("user@example.com", "secret", opts...)
	require.NoError(t, err)
	return c
}

// serveStatus serves the given document as the mobile status endpoint.
func (f *fakeNest) serveStatus(doc map[string]any) {
	f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(doc)
	})
}

// testStatusDocument is a small but complete account: one structure with one
// Celsius thermostat, one Protect and one remote sensor.
func testStatusDocument() map[string]any {
	return map[string]any{
		"user": map[string]any{
			"1234": map[string]any{"structures": []string{"structure.s1"}},
		},
		"structure": map[string]any{
			"s1": map[string]any{
				"name":           "Home",
				"location":       "New York",
				"street_address": "1 Main St",
				"postal_code":    "10011",
				"country_code":   "US",
				"away":           false,
				"devices":        []string{"device.THERM1"},
			},
		},
		"device": map[string]any{
			"THERM1": map[string]any{
				"serial_number":                 "THERM1",
				"temperature_scale":             "C",
				"current_schedule_mode":         "HEAT",
				"current_humidity":              45.0,
				"time_to_target":                0,
				"leaf":                          true,
				"battery_level":                 3.9,
				"local_ip":                      "192.168.1.10",
				"mac_address":                   "18b430000001",
				"where_id":                      "00000000-0000-0000-0000-00010000000c",
				"away_temperature_low":          16.0,
				"away_temperature_low_enabled":  true,
				"away_temperature_high":         28.0,
				"away_temperature_high_enabled": false,
				"eco":                           map[string]any{"mode": "schedule"},
			},
		},
		"shared": map[string]any{
			"THERM1": map[string]any{
				"name":                    "Living Room",
				"target_temperature_type": "heat",
				"target_temperature":      21.0,
				"current_temperature":     19.5,
				"auto_away":               0,
				"hvac_heater_state":       true,
				"hvac_ac_state":           false,
				"hvac_fan_state":          false,
			},
		},
		"link": map[string]any{
			"THERM1": map[string]any{"structure": "structure.s1"},
		},
		"track": map[string]any{
			"THERM1": map[string]any{
				"online":          true,
				"last_connection": int64(1700000000000),
				"last_ip":         "203.0.113.5",
			},
		},
		"topaz": map[string]any{
			"PROT1": map[string]any{
				"serial_number":                     "PROT1",
				"structure_id":                      "s1",
				"description":                       "Hallway Protect",
				"spoken_where_id":                   "00000000-0000-0000-0000-000100000002",
				"co_status":                         0,
				"smoke_status":                      0,
				"model":                             "Topaz-2.7",
				"software_version":                  "3.1.4rc1",
				"battery_level":                     98,
				"battery_health_state":              0,
				"line_power_present":                true,
				"latest_manual_test_start_utc_secs": int64(1690000000),
				"replace_by_date_utc_secs":          int64(1900000000),
				"night_light_enable":                true,
				"component_wifi_test_passed":        true,
				"wifi_ip_address":                   "192.168.1.11",
				"wifi_mac_address":                  "18b430000002",
			},
		},
		"kryptonite": map[string]any{
			"SENS1": map[string]any{
				"serial_number":       "SENS1",
				"structure_id":        "s1",
				"description":         "Bedroom Sensor",
				"where_id":            "00000000-0000-0000-0000-00010000000d",
				"current_temperature": 18.25,
				"battery_level":       92,
			},
		},
		"schedule": map[string]any{
			"THERM1": map[string]any{
				"days": map[string]any{
					"1": []map[string]any{
						{
							"time":       3600,
							"entry_type": "setpoint",
							"type":       "HEAT",
							"temp":       20.0,
						},
					},
				},
			},
		},
		"where": map[string]any{
			"s1": map[string]any{
				"wheres": []map[string]any{
					{"where_id": "custom-where-1", "name": "Sun Room"},
				},
			},
		},
	}
}

// mustSnapshot normalizes a status document into a Snapshot without going
// through the network path.
func mustSnapshot(t *testing.T, doc map[string]any) Snapshot {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	var top map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	return Snapshot(top)
}
