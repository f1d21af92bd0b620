package sensorthings

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestCollectionNames(t *testing.T) {
	is := is.New(t)

	is.Equal(TypeSensor.Collection(), "Sensors")
	is.Equal(TypeObservedProperty.Collection(), "ObservedProperties")
	is.Equal(TypeDatastream.Collection(), "Datastreams")
}

func TestEntityBodyExcludesLinksAndID(t *testing.T) {
	is := is.New(t)

	s := &Sensor{EncodingType: "application/pdf", Metadata: "https://example.com/doc.pdf"}
	s.Name_ = "24e124725d395889"
	s.Description = "air quality sensor"
	s.IotLinks_ = IotLinks{Datastreams: []string{"co2"}}
	id := int64(7)
	s.ID = &id

	var decoded map[string]any
	err := json.Unmarshal(s.Body(), &decoded)
	is.NoErr(err)

	is.Equal(decoded["name"], "24e124725d395889")
	_, hasLinks := decoded["iot_links"]
	is.True(!hasLinks)
	_, hasID := decoded["ID"]
	is.True(!hasID)
}

func TestObservationBody(t *testing.T) {
	is := is.New(t)

	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	o := Observation{Result: 4665.0, PhenomenonTime: &ts}

	body := string(o.Body())
	is.True(strings.Contains(body, `"result":4665`))
	is.True(strings.Contains(body, `"phenomenonTime":"2025-03-14T09:26:53Z"`))
	is.True(!strings.Contains(body, "resultTime"))
}

func TestTimePeriodValidate(t *testing.T) {
	is := is.New(t)

	start := time.Now()
	is.NoErr(TimePeriod{Start: start, End: start}.Validate())
	is.True(TimePeriod{Start: start, End: start.Add(-time.Second)}.Validate() != nil)
}

func validArrangement() *Arrangement {
	sensor := &Sensor{}
	sensor.Name_ = "s1"
	sensor.IotLinks_ = IotLinks{Datastreams: []string{"d1"}}

	thing := &Thing{}
	thing.Name_ = "t1"
	thing.IotLinks_ = IotLinks{Datastreams: []string{"d1"}}

	op := &ObservedPropertyDef{}
	op.Name_ = "co2"

	ds := &Datastream{}
	ds.Name_ = "d1"
	ds.IotLinks_ = IotLinks{Sensors: []string{"s1"}, Things: []string{"t1"}, ObservedProperties: []string{"co2"}}

	return &Arrangement{
		Sensors:            []*Sensor{sensor},
		Things:             []*Thing{thing},
		Datastreams:        []*Datastream{ds},
		ObservedProperties: []*ObservedPropertyDef{op},
	}
}

func TestArrangementValidate(t *testing.T) {
	is := is.New(t)

	is.NoErr(validArrangement().Validate())
}

func TestArrangementRequiresExactlyOneSensor(t *testing.T) {
	is := is.New(t)

	a := validArrangement()
	extra := &Sensor{}
	extra.Name_ = "s2"
	extra.IotLinks_ = IotLinks{Datastreams: []string{"d1"}}
	a.Sensors = append(a.Sensors, extra)

	is.True(a.Validate() != nil)
}

func TestArrangementRejectsDanglingLinks(t *testing.T) {
	is := is.New(t)

	a := validArrangement()
	a.Datastreams[0].IotLinks_.Things = []string{"no-such-thing"}

	err := a.Validate()
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "no-such-thing"))
}

func TestArrangementRequiresDatastreamTriple(t *testing.T) {
	is := is.New(t)

	a := validArrangement()
	a.Datastreams[0].IotLinks_.ObservedProperties = nil

	is.True(a.Validate() != nil)
}
