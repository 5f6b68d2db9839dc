// Package nest provides a Go client library for the Nest home automation
// service (the private API the official mobile apps use).
//
// The service has no public contract, so the client centers on a cached
// session and a raw status document that typed accessors project views of.
//
// # Authentication
//
// The library supports two authentication methods:
//
// Username and password - for legacy (non-migrated) Nest accounts:
//
//	client, err := nest.NewPasswordClient("user@example.com", "secret")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Google account - for migrated accounts, using the issue-token URL and
// cookies captured from a browser session on home.nest.com:
//
//	auth := &nest.GoogleAuthenticator{
//	    IssueTokenURL: issueTokenURL,
//	    Cookies:       cookieHeader,
//	}
//	client, err := nest.NewClient(auth)
//
// Sessions and the status document are cached on disk between runs, so
// repeated invocations do not log in again until the session expires. Use
// WithCacheStore to change where (or whether) state is persisted.
//
// # Basic Usage
//
// Inspect a thermostat:
//
//	device, err := client.DeviceInfo(ctx, "")
//	fmt.Printf("%s: %.1f°\n", device.Name, device.Thermostat.CurrentTemperature)
//
// Set a target temperature (in the device's own scale):
//
//	err := client.SetTargetTemperature(ctx, "", 21.5)
//
// An empty serial number selects the account's default device: the first
// thermostat, or the first Protect when no thermostat exists.
//
// # Error Handling
//
// Check for specific failure classes:
//
//	device, err := client.DeviceInfo(ctx, serial)
//	if err != nil {
//	    if nest.IsAuthenticationFailed(err) {
//	        // Bad credentials, or the cached session could not be renewed
//	    } else if nest.IsUnderMaintenance(err) {
//	        // The service is in a maintenance window; retry later
//	    } else if nest.IsNoDeviceFound(err) {
//	        // The account has no devices
//	    }
//	}
//
// # API Coverage
//
//   - Devices: thermostats, Protects, temperature sensors, network state
//   - Setters: target temperature and mode, eco, fan, away, humidifier
//   - Schedules: weekly setpoint schedule and next scheduled event
//   - Locations: structures with their devices and away state
//   - Weather: outside conditions by postal code
//
// Raw access to any object in the status document is available through
// Status and Snapshot.Object for fields the typed views do not cover, and
// Call exposes the request pipeline for endpoints the library does not
// wrap.
package nest
