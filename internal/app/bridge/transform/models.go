package transform

import (
	"fmt"
	"time"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// registry maps every supported sensor model to its transform spec.
// Connections look up models through the injected sensor registry, never
// from payload content.
var registry = map[sensorthings.SensorModel]Spec{
	sensorthings.MilesightAM103L: {
		Rename: map[string]sensorthings.ObservedProperty{
			"battery":     sensorthings.BatteryLevel,
			"co2":         sensorthings.CO2,
			"humidity":    sensorthings.Humidity,
			"temperature": sensorthings.TemperatureIn,
		},
	},
	sensorthings.MilesightAM308L: {
		Rename: map[string]sensorthings.ObservedProperty{
			"battery":     sensorthings.BatteryLevel,
			"co2":         sensorthings.CO2,
			"humidity":    sensorthings.Humidity,
			"light_level": sensorthings.LightLevel,
			"pir":         sensorthings.PassiveInfrared,
			"pm10":        sensorthings.PM10,
			"pm2_5":       sensorthings.PM2p5,
			"pressure":    sensorthings.GaugePressure,
			"temperature": sensorthings.TemperatureIn,
			"tvoc":        sensorthings.TVOC,
		},
		Convert: map[string]ConvertFunc{
			"pir": infraredTrigger,
		},
	},
	sensorthings.NetatmoNWS03: {
		Rename: map[string]sensorthings.ObservedProperty{
			"time_utc":    sensorthings.PhenomenonTime,
			"temperature": sensorthings.TemperatureIn,
			"co2":         sensorthings.CO2,
			"humidity":    sensorthings.Humidity,
			"noise":       sensorthings.Noise,
			"pressure":    sensorthings.GaugePressure,
		},
		Convert: map[string]ConvertFunc{
			"time_utc": epochSeconds,
		},
	},
}

// Lookup returns the transform spec registered for the model.
func Lookup(model sensorthings.SensorModel) (Spec, bool) {
	spec, ok := registry[model]
	return spec, ok
}

// NewTransformer validates the native fields of one device against the
// model's spec.
func NewTransformer(model sensorthings.SensorModel, native map[string]any, appTime *time.Time) (*Transformer, error) {
	spec, ok := Lookup(model)
	if !ok {
		return nil, fmt.Errorf("no transformer registered for sensor model %q", model)
	}
	return FromUnpack(spec, native, appTime)
}

func infraredTrigger(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string trigger state, got %T", v)
	}
	return s == "trigger", nil
}

func epochSeconds(v any) (any, error) {
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("expected numeric epoch timestamp, got %T", v)
	}
	return time.Unix(int64(f), 0).UTC(), nil
}
