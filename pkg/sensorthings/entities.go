package sensorthings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EntityType names match the OGC SensorThings collections on the wire.
type EntityType string

const (
	TypeSensor           EntityType = "Sensor"
	TypeThing            EntityType = "Thing"
	TypeLocation         EntityType = "Location"
	TypeDatastream       EntityType = "Datastream"
	TypeObservedProperty EntityType = "ObservedProperty"
	TypeObservation      EntityType = "Observation"
)

// Collection returns the collection path segment for the entity type.
func (t EntityType) Collection() string {
	switch t {
	case TypeObservedProperty:
		return "ObservedProperties"
	default:
		return string(t) + "s"
	}
}

// IotLinks records an entity's outbound links to other entities by name.
// Names are resolved against the remote store during setup.
type IotLinks struct {
	Sensors            []string `json:"sensors,omitempty" yaml:"sensors,omitempty"`
	Things             []string `json:"things,omitempty" yaml:"things,omitempty"`
	Locations          []string `json:"locations,omitempty" yaml:"locations,omitempty"`
	Datastreams        []string `json:"datastreams,omitempty" yaml:"datastreams,omitempty"`
	ObservedProperties []string `json:"observedProperties,omitempty" yaml:"observedProperties,omitempty"`
}

// Entity is implemented by every non-observation SensorThings object.
// Entities are immutable once posted to the remote store, except for their
// server-assigned numeric id.
type Entity interface {
	Name() string
	EntityType() EntityType
	Links() IotLinks

	// Body returns the JSON document POSTed to the remote store. Links and
	// ids are excluded: links are established separately, ids are assigned
	// by the server.
	Body() []byte
}

type entityImpl struct {
	Name_       string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	IotLinks_   IotLinks       `json:"-" yaml:"iot_links,omitempty"`
	ID          *int64         `json:"-" yaml:"-"`
}

func (e *entityImpl) Name() string    { return e.Name_ }
func (e *entityImpl) Links() IotLinks { return e.IotLinks_ }

type Sensor struct {
	entityImpl   `yaml:",inline"`
	EncodingType string `json:"encodingType" yaml:"encodingType"`
	Metadata     string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (s *Sensor) EntityType() EntityType { return TypeSensor }
func (s *Sensor) Body() []byte {
	b, _ := json.Marshal(s)
	return b
}

type Thing struct {
	entityImpl `yaml:",inline"`
}

func (t *Thing) EntityType() EntityType { return TypeThing }
func (t *Thing) Body() []byte {
	b, _ := json.Marshal(t)
	return b
}

type Location struct {
	entityImpl   `yaml:",inline"`
	EncodingType string         `json:"encodingType" yaml:"encodingType"`
	Location_    map[string]any `json:"location" yaml:"location"`
}

func (l *Location) EntityType() EntityType { return TypeLocation }
func (l *Location) Body() []byte {
	b, _ := json.Marshal(l)
	return b
}

type Datastream struct {
	entityImpl        `yaml:",inline"`
	ObservationType   string         `json:"observationType" yaml:"observationType"`
	UnitOfMeasurement map[string]any `json:"unitOfMeasurement" yaml:"unitOfMeasurement"`
}

func (d *Datastream) EntityType() EntityType { return TypeDatastream }
func (d *Datastream) Body() []byte {
	b, _ := json.Marshal(d)
	return b
}

// ObservedPropertyDef is the remote store entity behind an ObservedProperty
// vocabulary value. The entity holds a definition URI in addition to the
// common fields.
type ObservedPropertyDef struct {
	entityImpl `yaml:",inline"`
	Definition string `json:"definition" yaml:"definition"`
}

func (o *ObservedPropertyDef) EntityType() EntityType { return TypeObservedProperty }
func (o *ObservedPropertyDef) Body() []byte {
	b, _ := json.Marshal(o)
	return b
}

// TimePeriod is a closed interval. End must not precede Start.
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p TimePeriod) Validate() error {
	if p.End.Before(p.Start) {
		return errors.New("end of time period before its start")
	}
	return nil
}

// Observation is one timestamped scalar reading destined for a specific
// datastream. It has no identity of its own until uploaded; the upload
// assigns a server id. A nil PhenomenonTime means "use the
// application-supplied time".
type Observation struct {
	Result         any         `json:"result"`
	PhenomenonTime *time.Time  `json:"phenomenonTime,omitempty"`
	ResultTime     *time.Time  `json:"resultTime,omitempty"`
	ValidTime      *TimePeriod `json:"validTime,omitempty"`
}

func (o Observation) Body() []byte {
	b, _ := json.Marshal(o)
	return b
}

// Arrangement is the resolved graph of entities for one sensor
// configuration, ready to be created on the remote store in dependency
// order. It always holds exactly one sensor.
type Arrangement struct {
	Sensors            []*Sensor
	Things             []*Thing
	Locations          []*Location
	Datastreams        []*Datastream
	ObservedProperties []*ObservedPropertyDef
}

// Entities returns all entities of the given type, in declaration order.
func (a *Arrangement) Entities(t EntityType) []Entity {
	var out []Entity
	switch t {
	case TypeSensor:
		for _, e := range a.Sensors {
			out = append(out, e)
		}
	case TypeThing:
		for _, e := range a.Things {
			out = append(out, e)
		}
	case TypeLocation:
		for _, e := range a.Locations {
			out = append(out, e)
		}
	case TypeDatastream:
		for _, e := range a.Datastreams {
			out = append(out, e)
		}
	case TypeObservedProperty:
		for _, e := range a.ObservedProperties {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entity of the given type and name.
func (a *Arrangement) Get(t EntityType, name string) (Entity, bool) {
	for _, e := range a.Entities(t) {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// Validate enforces the link invariants of the data model: a datastream
// links to exactly one sensor, one observed property and one thing; a thing
// links to at least one datastream; a sensor links to at least one
// datastream. All link targets must exist in the arrangement.
func (a *Arrangement) Validate() error {
	var errs []error

	if len(a.Sensors) != 1 {
		errs = append(errs, fmt.Errorf("arrangement must contain exactly one sensor, got %d", len(a.Sensors)))
	}

	checkTargets := func(owner string, t EntityType, names []string) {
		for _, n := range names {
			if _, ok := a.Get(t, n); !ok {
				errs = append(errs, fmt.Errorf("%s links to unknown %s %q", owner, t, n))
			}
		}
	}

	for _, ds := range a.Datastreams {
		l := ds.Links()
		if len(l.Sensors) != 1 || len(l.ObservedProperties) != 1 || len(l.Things) != 1 {
			errs = append(errs, fmt.Errorf("datastream %q must link exactly one sensor, one observed property and one thing", ds.Name()))
		}
		checkTargets("datastream "+ds.Name_, TypeSensor, l.Sensors)
		checkTargets("datastream "+ds.Name_, TypeObservedProperty, l.ObservedProperties)
		checkTargets("datastream "+ds.Name_, TypeThing, l.Things)
	}

	for _, t := range a.Things {
		if len(t.Links().Datastreams) == 0 {
			errs = append(errs, fmt.Errorf("thing %q must link at least one datastream", t.Name()))
		}
		checkTargets("thing "+t.Name_, TypeDatastream, t.Links().Datastreams)
		checkTargets("thing "+t.Name_, TypeLocation, t.Links().Locations)
	}

	for _, s := range a.Sensors {
		if len(s.Links().Datastreams) == 0 {
			errs = append(errs, fmt.Errorf("sensor %q must link at least one datastream", s.Name()))
		}
		checkTargets("sensor "+s.Name_, TypeDatastream, s.Links().Datastreams)
	}

	return errors.Join(errs...)
}
