package nest

import "time"

// TargetMode is a thermostat target temperature mode.
type TargetMode string

const (
	TargetModeHeat  TargetMode = "heat"
	TargetModeCool  TargetMode = "cool"
	TargetModeRange TargetMode = "range"
	TargetModeOff   TargetMode = "off"
)

// EcoMode selects between manual eco and the normal schedule.
type EcoMode string

const (
	EcoModeManual   EcoMode = "manual-eco"
	EcoModeSchedule EcoMode = "schedule"
)

// FanMode is a thermostat fan operating mode.
type FanMode string

const (
	FanModeAuto      FanMode = "auto"
	FanModeOn        FanMode = "on"
	FanModeDutyCycle FanMode = "duty-cycle"
)

// Common fan timer durations for SetFanTimer. Any duration works; these are
// the presets the official apps offer.
const (
	FanTimer15Minutes = 15 * time.Minute
	FanTimer30Minutes = 30 * time.Minute
	FanTimer1Hour     = time.Hour
	FanTimer2Hours    = 2 * time.Hour
	FanTimer4Hours    = 4 * time.Hour
	FanTimer8Hours    = 8 * time.Hour
	FanTimer12Hours   = 12 * time.Hour
)

// TemperatureScale is the scale a device reports and accepts temperatures in.
type TemperatureScale string

const (
	ScaleCelsius    TemperatureScale = "C"
	ScaleFahrenheit TemperatureScale = "F"
)

// DeviceKind discriminates the closed set of device categories.
type DeviceKind string

const (
	KindThermostat DeviceKind = "thermostat"
	KindProtect    DeviceKind = "protect"
	KindSensor     DeviceKind = "sensor"
)

// DeviceWithNoName is reported as a device name when the account has not
// named the device.
const DeviceWithNoName = "Not Set"

// scheduleDays maps the API's Monday-first weekday index to day names.
var scheduleDays = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// builtinWheres maps the fixed vendor where ids to room names. Custom rooms
// are resolved through the "where" category of the status document instead.
var builtinWheres = map[string]string{
	"00000000-0000-0000-0000-000100000000": "Entryway",
	"00000000-0000-0000-0000-000100000001": "Basement",
	"00000000-0000-0000-0000-000100000002": "Hallway",
	"00000000-0000-0000-0000-000100000003": "Den",
	"00000000-0000-0000-0000-000100000004": "Attic",
	"00000000-0000-0000-0000-000100000005": "Master Bedroom",
	"00000000-0000-0000-0000-000100000006": "Downstairs",
	"00000000-0000-0000-0000-000100000007": "Garage",
	"00000000-0000-0000-0000-000100000008": "Kids Room",
	"00000000-0000-0000-0000-000100000009": "Garage \"Hallway\"",
	"00000000-0000-0000-0000-00010000000a": "Kitchen",
	"00000000-0000-0000-0000-00010000000b": "Family Room",
	"00000000-0000-0000-0000-00010000000c": "Living Room",
	"00000000-0000-0000-0000-00010000000d": "Bedroom",
	"00000000-0000-0000-0000-00010000000e": "Office",
	"00000000-0000-0000-0000-00010000000f": "Upstairs",
	"00000000-0000-0000-0000-000100000010": "Dining Room",
}
