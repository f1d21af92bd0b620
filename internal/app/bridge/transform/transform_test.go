package transform

import (
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

func am308Fields() map[string]any {
	return map[string]any{
		"battery":     76.0,
		"co2":         4665.0,
		"humidity":    35.5,
		"light_level": 2.0,
		"pir":         "trigger",
		"pm10":        15.0,
		"pm2_5":       10.0,
		"pressure":    1008.4,
		"temperature": 21.9,
		"tvoc":        222.0,
	}
}

func TestTransformAM308L(t *testing.T) {
	is := is.New(t)

	appTime := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tr, err := NewTransformer(sensorthings.MilesightAM308L, am308Fields(), &appTime)
	is.NoErr(err)

	results, err := tr.ToObservations()
	is.NoErr(err)
	is.Equal(len(results), 10)

	byProp := map[sensorthings.ObservedProperty]sensorthings.Observation{}
	for _, r := range results {
		_, seen := byProp[r.Property]
		is.True(!seen) // every observation targets a distinct property
		byProp[r.Property] = r.Observation
	}

	is.Equal(byProp[sensorthings.CO2].Result, 4665.0)
	is.Equal(byProp[sensorthings.PassiveInfrared].Result, true)
	is.Equal(*byProp[sensorthings.CO2].PhenomenonTime, appTime)
}

func TestTransformRejectsMissingFields(t *testing.T) {
	is := is.New(t)

	fields := am308Fields()
	delete(fields, "co2")
	delete(fields, "tvoc")

	_, err := NewTransformer(sensorthings.MilesightAM308L, fields, nil)
	is.True(err != nil)
	is.Equal(err.Error(), "native payload is missing required fields: co2, tvoc")
}

func TestTransformRejectsUnknownFields(t *testing.T) {
	is := is.New(t)

	fields := am308Fields()
	fields["wind_speed"] = 3.0

	_, err := NewTransformer(sensorthings.MilesightAM308L, fields, nil)
	is.True(err != nil)
	is.Equal(err.Error(), "native payload has fields unknown to the model: wind_speed")
}

func TestTransformMatchesFieldsCaseInsensitively(t *testing.T) {
	is := is.New(t)

	fields := map[string]any{
		"time_utc":    1741944413.0,
		"Temperature": 21.4,
		"CO2":         512.0,
		"Humidity":    41.0,
		"Noise":       38.0,
		"Pressure":    1012.3,
	}

	tr, err := NewTransformer(sensorthings.NetatmoNWS03, fields, nil)
	is.NoErr(err)

	results, err := tr.ToObservations()
	is.NoErr(err)
	is.Equal(len(results), 5)
}

func TestTransformUsesEmbeddedPhenomenonTime(t *testing.T) {
	is := is.New(t)

	appTime := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	embedded := time.Unix(1741944413, 0).UTC()

	fields := map[string]any{
		"time_utc":    1741944413.0,
		"temperature": 21.4,
		"co2":         512.0,
		"humidity":    41.0,
		"noise":       38.0,
		"pressure":    1012.3,
	}

	tr, err := NewTransformer(sensorthings.NetatmoNWS03, fields, &appTime)
	is.NoErr(err)

	results, err := tr.ToObservations()
	is.NoErr(err)

	for _, r := range results {
		is.True(r.Property != sensorthings.PhenomenonTime) // reserved property is never emitted
		is.Equal(*r.Observation.PhenomenonTime, embedded)
	}
}

func TestTransformUnknownModel(t *testing.T) {
	is := is.New(t)

	_, err := NewTransformer(sensorthings.SensorModel("acme.rocket"), map[string]any{}, nil)
	is.True(err != nil)
}
