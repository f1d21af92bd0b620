package sensorthings

// SensorID identifies one physical device, unique within an application's
// scope. For LoRaWAN devices this is the hardware EUI, for weather stations
// the station MAC address.
type SensorID = string

// ObservedProperty is the canonical vocabulary all vendor field names are
// mapped onto. Adding a sensor model means adding one mapping table in the
// transform package, never touching the pipeline.
type ObservedProperty string

const (
	// PhenomenonTime is reserved. A vendor field mapped to it supplies the
	// phenomenon time of every other observation in the same payload and is
	// never emitted as an observation of its own.
	PhenomenonTime ObservedProperty = "phenomenon_time"

	BatteryLevel     ObservedProperty = "battery_level"
	Humidity         ObservedProperty = "humidity"
	CO2              ObservedProperty = "co2"
	TemperatureIn    ObservedProperty = "temperature_indoor"
	LightLevel       ObservedProperty = "light_level"
	PassiveInfrared  ObservedProperty = "passive_infrared"
	PM10             ObservedProperty = "particulate_matter_10"
	PM2p5            ObservedProperty = "particulate_matter_2_5"
	GaugePressure    ObservedProperty = "gauge_pressure"
	AbsolutePressure ObservedProperty = "absolute_pressure"
	Noise            ObservedProperty = "noise"
	TVOC             ObservedProperty = "total_volatile_organic_compounds"
)

func (p ObservedProperty) String() string {
	return string(p)
}

// SensorModel is the closed set of supported device models. Each model has
// exactly one registered transformer.
type SensorModel string

const (
	MilesightAM103L SensorModel = "milesight.am103l"
	MilesightAM308L SensorModel = "milesight.am308l"
	NetatmoNWS03    SensorModel = "netatmo.nws03"
)

func (m SensorModel) String() string {
	return string(m)
}

// SensorRegistry maps device identifiers to their declared model. It is
// produced by config validation and injected into a connection at start
// time: payload content is never trusted to self-identify a device.
type SensorRegistry map[SensorID]SensorModel
