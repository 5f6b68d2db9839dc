package nest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Device is a typed, unit-converted projection of one device in a status
// snapshot. Exactly one of Thermostat, Protect or Sensor is set, matching
// Kind.
type Device struct {
	Kind         DeviceKind
	SerialNumber string
	// Name falls back to DeviceWithNoName when the account never named
	// the device.
	Name string
	// Where is the resolved room name, or the raw where id when no
	// mapping exists.
	Where       string
	StructureID string
	// Scale is the device's preferred temperature scale; every
	// temperature on this record is already converted to it.
	Scale   TemperatureScale
	Network NetworkInfo

	Thermostat *ThermostatInfo
	Protect    *ProtectInfo
	Sensor     *SensorInfo
}

// NetworkInfo is the connectivity portion of a device record.
type NetworkInfo struct {
	Online         bool
	LastConnection time.Time
	WANIP          string
	LocalIP        string
	MACAddress     string
}

// ThermostatInfo is the HVAC portion of a thermostat record.
type ThermostatInfo struct {
	// Mode is the currently scheduled mode as reported, lowercased.
	Mode string
	// TargetMode is the derived effective target mode; see the package
	// documentation for the eco/off derivation rules.
	TargetMode         TargetMode
	TargetTemperature  float64
	TargetLow          float64
	TargetHigh         float64
	TimeToTarget       int
	CurrentTemperature float64
	Humidity           float64

	HeatOn bool
	ACOn   bool
	FanOn  bool

	Leaf         bool
	BatteryLevel float64

	// AutoAway is the raw tri-state: -1 disabled, 0 armed, >0 active.
	AutoAway   int
	ManualAway bool

	EcoActive bool
	// EcoLow / EcoHigh are nil when the corresponding eco bound is
	// disabled.
	EcoLow  *float64
	EcoHigh *float64

	HasHumidifier         bool
	HumidifierOn          bool
	TargetHumidity        float64
	TargetHumidityEnabled bool
}

// ProtectInfo is the smoke/CO portion of a Protect record.
type ProtectInfo struct {
	// COStatus and SmokeStatus are "OK" or the raw non-zero status code.
	COStatus          string
	SmokeStatus       string
	Model             string
	SoftwareVersion   string
	BatteryLevel      float64
	BatteryHealth     string
	LinePowerPresent  bool
	LastManualTest    time.Time
	ReplaceByDate     time.Time
	NightLightEnabled bool
}

// SensorInfo is the reading portion of a standalone temperature sensor.
type SensorInfo struct {
	CurrentTemperature float64
	BatteryLevel       float64
}

// deviceObject is the wire shape of a "device" category record.
type deviceObject struct {
	SerialNumber               string  `json:"serial_number"`
	TemperatureScale           string  `json:"temperature_scale"`
	CurrentScheduleMode        string  `json:"current_schedule_mode"`
	CurrentHumidity            float64 `json:"current_humidity"`
	TimeToTarget               int     `json:"time_to_target"`
	Leaf                       bool    `json:"leaf"`
	BatteryLevel               float64 `json:"battery_level"`
	LocalIP                    string  `json:"local_ip"`
	MACAddress                 string  `json:"mac_address"`
	WhereID                    string  `json:"where_id"`
	AwayTemperatureLow         float64 `json:"away_temperature_low"`
	AwayTemperatureLowEnabled  bool    `json:"away_temperature_low_enabled"`
	AwayTemperatureHigh        float64 `json:"away_temperature_high"`
	AwayTemperatureHighEnabled bool    `json:"away_temperature_high_enabled"`
	HasHumidifier              bool    `json:"has_humidifier"`
	HumidifierState            bool    `json:"humidifier_state"`
	TargetHumidity             float64 `json:"target_humidity"`
	TargetHumidityEnabled      bool    `json:"target_humidity_enabled"`
	Eco                        struct {
		Mode string `json:"mode"`
	} `json:"eco"`
}

// ecoActive reports whether the device is currently holding eco setpoints.
func (d *deviceObject) ecoActive() bool {
	return d.Eco.Mode == "manual-eco" || d.Eco.Mode == "auto-eco"
}

// sharedObject is the wire shape of a "shared" category record.
type sharedObject struct {
	Name                  string  `json:"name"`
	TargetTemperatureType string  `json:"target_temperature_type"`
	TargetTemperature     float64 `json:"target_temperature"`
	TargetTemperatureLow  float64 `json:"target_temperature_low"`
	TargetTemperatureHigh float64 `json:"target_temperature_high"`
	CurrentTemperature    float64 `json:"current_temperature"`
	AutoAway              int     `json:"auto_away"`
	HvacHeaterState       bool    `json:"hvac_heater_state"`
	HvacACState           bool    `json:"hvac_ac_state"`
	HvacFanState          bool    `json:"hvac_fan_state"`
}

// structureObject is the wire shape of a "structure" category record.
type structureObject struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	StreetAddress string   `json:"street_address"`
	PostalCode    string   `json:"postal_code"`
	CountryCode   string   `json:"country_code"`
	Away          bool     `json:"away"`
	AwayTimestamp int64    `json:"away_timestamp"`
	Devices       []string `json:"devices"`
}

// linkObject is the wire shape of a "link" category record.
type linkObject struct {
	Structure string `json:"structure"`
}

// trackObject is the wire shape of a "track" category record.
type trackObject struct {
	Online         bool   `json:"online"`
	LastConnection int64  `json:"last_connection"`
	LastIP         string `json:"last_ip"`
}

// userObject is the wire shape of a "user" category record.
type userObject struct {
	Structures []string `json:"structures"`
}

// topazObject is the wire shape of a "topaz" (Protect) category record.
type topazObject struct {
	SerialNumber              string      `json:"serial_number"`
	StructureID               string      `json:"structure_id"`
	Description               string      `json:"description"`
	SpokenWhereID             string      `json:"spoken_where_id"`
	COStatus                  json.Number `json:"co_status"`
	SmokeStatus               json.Number `json:"smoke_status"`
	Model                     string      `json:"model"`
	SoftwareVersion           string      `json:"software_version"`
	BatteryLevel              float64     `json:"battery_level"`
	BatteryHealthState        json.Number `json:"battery_health_state"`
	LinePowerPresent          bool        `json:"line_power_present"`
	LatestManualTestStartSecs int64       `json:"latest_manual_test_start_utc_secs"`
	ReplaceByDateSecs         int64       `json:"replace_by_date_utc_secs"`
	NightLightEnable          bool        `json:"night_light_enable"`
	ComponentWifiTestPassed   bool        `json:"component_wifi_test_passed"`
	WifiIPAddress             string      `json:"wifi_ip_address"`
	WifiMACAddress            string      `json:"wifi_mac_address"`
}

// kryptoniteObject is the wire shape of a "kryptonite" (sensor) record.
type kryptoniteObject struct {
	SerialNumber       string  `json:"serial_number"`
	StructureID        string  `json:"structure_id"`
	Description        string  `json:"description"`
	WhereID            string  `json:"where_id"`
	CurrentTemperature float64 `json:"current_temperature"`
	BatteryLevel       float64 `json:"battery_level"`
}

// whereObject is the wire shape of a "where" category record.
type whereObject struct {
	Wheres []struct {
		WhereID string `json:"where_id"`
		Name    string `json:"name"`
	} `json:"wheres"`
}

// Thermostats lists the thermostat serial numbers on the account, walking
// the structures' device lists in deterministic order.
func (c *Client) Thermostats(ctx context.Context) ([]string, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return thermostatSerials(snapshot)
}

// Protects lists the Protect serial numbers on the account.
func (c *Client) Protects(ctx context.Context) ([]string, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return sortedIDs(snapshot["topaz"]), nil
}

// Sensors lists the standalone temperature sensor serial numbers.
func (c *Client) Sensors(ctx context.Context) ([]string, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	return sortedIDs(snapshot["kryptonite"]), nil
}

// DeviceInfo returns the typed record for a device. An empty serial selects
// the account's default device (first thermostat, else first Protect).
func (c *Client) DeviceInfo(ctx context.Context, serial string) (*Device, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	serial, err = defaultSerial(snapshot, serial)
	if err != nil {
		return nil, err
	}
	return deviceInfo(snapshot, serial)
}

// DefaultSerial resolves an explicit serial unchanged, or picks the
// account's default device: the first thermostat found via the structures'
// device lists, falling back to the first Protect. ErrNoDeviceFound when the
// account has neither.
func (c *Client) DefaultSerial(ctx context.Context, serial string) (string, error) {
	snapshot, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	return defaultSerial(snapshot, serial)
}

// defaultSerial is the pure resolution over a snapshot.
func defaultSerial(snapshot Snapshot, serial string) (string, error) {
	if serial != "" {
		return serial, nil
	}
	thermostats, err := thermostatSerials(snapshot)
	if err != nil {
		return "", err
	}
	if len(thermostats) > 0 {
		return thermostats[0], nil
	}
	if protects := sortedIDs(snapshot["topaz"]); len(protects) > 0 {
		return protects[0], nil
	}
	return "", ErrNoDeviceFound
}

// thermostatSerials walks the account's structures and collects their
// device entries, verifying each is resolvable in the device and shared
// categories.
func thermostatSerials(snapshot Snapshot) ([]string, error) {
	var serials []string
	for _, structureID := range structureIDs(snapshot) {
		var structure structureObject
		if err := snapshot.decode("structure", structureID, &structure); err != nil {
			return nil, err
		}
		for _, entry := range structure.Devices {
			_, serial, ok := strings.Cut(entry, ".")
			if !ok {
				continue
			}
			if _, ok := snapshot.Object("device", serial); !ok {
				return nil, fmt.Errorf("%w: device.%s (listed by structure.%s)", ErrInconsistentSnapshot, serial, structureID)
			}
			if _, ok := snapshot.Object("shared", serial); !ok {
				return nil, fmt.Errorf("%w: shared.%s (listed by structure.%s)", ErrInconsistentSnapshot, serial, structureID)
			}
			serials = append(serials, serial)
		}
	}
	return serials, nil
}

// structureIDs returns the account's structure ids, preferring the user
// record's ordering and falling back to all structures sorted by id.
func structureIDs(snapshot Snapshot) []string {
	for _, userID := range sortedIDs(snapshot["user"]) {
		var user userObject
		if err := snapshot.decode("user", userID, &user); err != nil {
			continue
		}
		if len(user.Structures) == 0 {
			continue
		}
		ids := make([]string, 0, len(user.Structures))
		for _, entry := range user.Structures {
			if _, id, ok := strings.Cut(entry, "."); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return sortedIDs(snapshot["structure"])
}

// sortedIDs returns a category's object ids in sorted order.
func sortedIDs(objects map[string]json.RawMessage) []string {
	if len(objects) == 0 {
		return nil
	}
	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// deviceInfo dispatches on which category contains the serial and assembles
// the typed record.
func deviceInfo(snapshot Snapshot, serial string) (*Device, error) {
	if _, ok := snapshot.Object("topaz", serial); ok {
		return protectInfo(snapshot, serial)
	}
	if _, ok := snapshot.Object("kryptonite", serial); ok {
		return sensorInfo(snapshot, serial)
	}
	return thermostatInfo(snapshot, serial)
}

// thermostatInfo assembles a thermostat record from the device, shared,
// link, structure and track categories.
func thermostatInfo(snapshot Snapshot, serial string) (*Device, error) {
	var dev deviceObject
	if err := snapshot.decode("device", serial, &dev); err != nil {
		return nil, err
	}
	var shared sharedObject
	if err := snapshot.decode("shared", serial, &shared); err != nil {
		return nil, fmt.Errorf("%w: shared.%s", ErrInconsistentSnapshot, serial)
	}

	structureID := ""
	var link linkObject
	if err := snapshot.decode("link", serial, &link); err == nil {
		_, structureID, _ = strings.Cut(link.Structure, ".")
	}

	manualAway := false
	if structureID != "" {
		var structure structureObject
		if err := snapshot.decode("structure", structureID, &structure); err != nil {
			return nil, fmt.Errorf("%w: structure.%s (linked by %s)", ErrInconsistentSnapshot, structureID, serial)
		}
		manualAway = structure.Away
	}

	scale := TemperatureScale(strings.ToUpper(dev.TemperatureScale))
	if scale != ScaleFahrenheit {
		scale = ScaleCelsius
	}
	toUser := func(celsius float64) float64 { return fromCelsius(celsius, scale) }

	info := &ThermostatInfo{
		Mode:               strings.ToLower(dev.CurrentScheduleMode),
		CurrentTemperature: toUser(shared.CurrentTemperature),
		Humidity:           dev.CurrentHumidity,
		TimeToTarget:       dev.TimeToTarget,
		HeatOn:             shared.HvacHeaterState,
		ACOn:               shared.HvacACState,
		FanOn:              shared.HvacFanState,
		Leaf:               dev.Leaf,
		BatteryLevel:       dev.BatteryLevel,
		AutoAway:           shared.AutoAway,
		ManualAway:         manualAway,
		EcoActive:          dev.ecoActive(),
		HasHumidifier:      dev.HasHumidifier,
	}
	if dev.HasHumidifier {
		info.HumidifierOn = dev.HumidifierState
		info.TargetHumidity = dev.TargetHumidity
		info.TargetHumidityEnabled = dev.TargetHumidityEnabled
	}
	if dev.AwayTemperatureLowEnabled {
		v := toUser(dev.AwayTemperatureLow)
		info.EcoLow = &v
	}
	if dev.AwayTemperatureHighEnabled {
		v := toUser(dev.AwayTemperatureHigh)
		info.EcoHigh = &v
	}

	// Effective target mode. The precedence mirrors the latest observed
	// service behavior and remains provisional reverse-engineering: off
	// always wins; inside eco the enabled bounds decide; otherwise the
	// shared target type is authoritative.
	info.TargetMode = deriveTargetMode(&dev, &shared)
	switch info.TargetMode {
	case TargetModeRange:
		if info.EcoActive {
			info.TargetLow = toUser(dev.AwayTemperatureLow)
			info.TargetHigh = toUser(dev.AwayTemperatureHigh)
		} else {
			info.TargetLow = toUser(shared.TargetTemperatureLow)
			info.TargetHigh = toUser(shared.TargetTemperatureHigh)
		}
	case TargetModeOff:
		// No setpoints.
	default:
		if info.EcoActive {
			if info.EcoLow != nil {
				info.TargetTemperature = *info.EcoLow
			} else if info.EcoHigh != nil {
				info.TargetTemperature = *info.EcoHigh
			}
		} else {
			info.TargetTemperature = toUser(shared.TargetTemperature)
		}
	}

	name := shared.Name
	if name == "" {
		name = DeviceWithNoName
	}

	network := NetworkInfo{LocalIP: dev.LocalIP, MACAddress: dev.MACAddress}
	var track trackObject
	if err := snapshot.decode("track", serial, &track); err == nil {
		network.Online = track.Online
		network.WANIP = track.LastIP
		if track.LastConnection > 0 {
			network.LastConnection = time.UnixMilli(track.LastConnection)
		}
	}

	return &Device{
		Kind:         KindThermostat,
		SerialNumber: serial,
		Name:         name,
		Where:        resolveWhere(snapshot, structureID, dev.WhereID),
		StructureID:  structureID,
		Scale:        scale,
		Network:      network,
		Thermostat:   info,
	}, nil
}

// deriveTargetMode computes the effective target mode from the overlapping
// off/eco/shared fields.
func deriveTargetMode(dev *deviceObject, shared *sharedObject) TargetMode {
	targetType := strings.ToLower(shared.TargetTemperatureType)
	if targetType == string(TargetModeOff) {
		return TargetModeOff
	}
	if dev.ecoActive() {
		switch {
		case dev.AwayTemperatureLowEnabled && dev.AwayTemperatureHighEnabled:
			return TargetModeRange
		case dev.AwayTemperatureLowEnabled:
			return TargetModeHeat
		case dev.AwayTemperatureHighEnabled:
			return TargetModeCool
		default:
			return TargetModeOff
		}
	}
	if targetType == string(TargetModeRange) {
		return TargetModeRange
	}
	return TargetMode(targetType)
}

// protectInfo assembles a Protect record from its topaz entry.
func protectInfo(snapshot Snapshot, serial string) (*Device, error) {
	var topaz topazObject
	if err := snapshot.decode("topaz", serial, &topaz); err != nil {
		return nil, err
	}

	name := topaz.Description
	if name == "" {
		name = DeviceWithNoName
	}

	info := &ProtectInfo{
		COStatus:          statusOrOK(topaz.COStatus),
		SmokeStatus:       statusOrOK(topaz.SmokeStatus),
		Model:             topaz.Model,
		SoftwareVersion:   topaz.SoftwareVersion,
		BatteryLevel:      topaz.BatteryLevel,
		BatteryHealth:     statusOrOK(topaz.BatteryHealthState),
		LinePowerPresent:  topaz.LinePowerPresent,
		NightLightEnabled: topaz.NightLightEnable,
	}
	if topaz.LatestManualTestStartSecs > 0 {
		info.LastManualTest = time.Unix(topaz.LatestManualTestStartSecs, 0)
	}
	if topaz.ReplaceByDateSecs > 0 {
		info.ReplaceByDate = time.Unix(topaz.ReplaceByDateSecs, 0)
	}

	return &Device{
		Kind:         KindProtect,
		SerialNumber: topaz.SerialNumber,
		Name:         name,
		Where:        resolveWhere(snapshot, topaz.StructureID, topaz.SpokenWhereID),
		StructureID:  topaz.StructureID,
		Scale:        ScaleCelsius,
		Network: NetworkInfo{
			Online:     topaz.ComponentWifiTestPassed,
			LocalIP:    topaz.WifiIPAddress,
			MACAddress: topaz.WifiMACAddress,
		},
		Protect: info,
	}, nil
}

// sensorInfo assembles a temperature sensor record from its kryptonite
// entry.
func sensorInfo(snapshot Snapshot, serial string) (*Device, error) {
	var sensor kryptoniteObject
	if err := snapshot.decode("kryptonite", serial, &sensor); err != nil {
		return nil, err
	}

	name := sensor.Description
	if name == "" {
		name = DeviceWithNoName
	}

	return &Device{
		Kind:         KindSensor,
		SerialNumber: serial,
		Name:         name,
		Where:        resolveWhere(snapshot, sensor.StructureID, sensor.WhereID),
		StructureID:  sensor.StructureID,
		Scale:        ScaleCelsius,
		Sensor: &SensorInfo{
			CurrentTemperature: sensor.CurrentTemperature,
			BatteryLevel:       sensor.BatteryLevel,
		},
	}, nil
}

// resolveWhere maps a where id to a room name: the builtin table first, then
// the structure's custom wheres, else the raw id.
func resolveWhere(snapshot Snapshot, structureID, whereID string) string {
	if whereID == "" {
		return ""
	}
	if name, ok := builtinWheres[whereID]; ok {
		return name
	}
	if structureID != "" {
		var wheres whereObject
		if err := snapshot.decode("where", structureID, &wheres); err == nil {
			for _, w := range wheres.Wheres {
				if w.WhereID == whereID {
					return w.Name
				}
			}
		}
	}
	return whereID
}

// statusOrOK renders a vendor numeric status as "OK" when zero.
func statusOrOK(n json.Number) string {
	if n == "" || n.String() == "0" {
		return "OK"
	}
	return n.String()
}
