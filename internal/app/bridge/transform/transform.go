package transform

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// ConvertFunc applies a value-level conversion to a vendor field before it
// is emitted, e.g. an infrared-trigger string to a boolean.
type ConvertFunc func(v any) (any, error)

// Spec declares how one sensor model's native fields become observations.
// Rename controls which fields are emitted and under what canonical name;
// its key set doubles as the required-field schema for the model. Convert
// holds optional per-field value conversions applied before emission.
type Spec struct {
	Rename  map[string]sensorthings.ObservedProperty
	Convert map[string]ConvertFunc
}

// Result pairs an emitted observation with the canonical property naming
// the datastream it belongs to.
type Result struct {
	Observation sensorthings.Observation
	Property    sensorthings.ObservedProperty
}

// Transformer holds one device's validated native fields, ready to be
// turned into observations.
type Transformer struct {
	spec    Spec
	fields  map[string]any
	appTime *time.Time
}

// FromUnpack validates a native field map against the model spec and
// returns a transformer over it. Field names are matched case
// insensitively. Missing or extra fields are a hard error: this is the
// single point of schema enforcement for vendor payloads, defaults are
// never substituted.
func FromUnpack(spec Spec, native map[string]any, appTime *time.Time) (*Transformer, error) {
	fields := make(map[string]any, len(native))
	for k, v := range native {
		fields[strings.ToLower(k)] = v
	}

	var missing, extra []string
	for k := range spec.Rename {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range fields {
		if _, ok := spec.Rename[k]; !ok {
			extra = append(extra, k)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("native payload is missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fmt.Errorf("native payload has fields unknown to the model: %s", strings.Join(extra, ", "))
	}

	return &Transformer{spec: spec, fields: fields, appTime: appTime}, nil
}

// ToObservations applies the conversion table and emits one observation per
// renamed field, in canonical property order. A field renamed to the
// reserved phenomenon_time property supplies the phenomenon time of every
// emitted observation and is itself never emitted; when no such field
// exists, the unpacker's application timestamp is used instead.
func (t *Transformer) ToObservations() ([]Result, error) {
	converted := make(map[string]any, len(t.fields))
	for k, v := range t.fields {
		if fn, ok := t.spec.Convert[k]; ok {
			cv, err := fn(v)
			if err != nil {
				return nil, fmt.Errorf("could not convert field %q: %w", k, err)
			}
			converted[k] = cv
			continue
		}
		converted[k] = v
	}

	phenomenonTime := t.appTime
	for field, prop := range t.spec.Rename {
		if prop != sensorthings.PhenomenonTime {
			continue
		}
		ts, ok := converted[field].(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %q mapped to phenomenon time is not a timestamp", field)
		}
		phenomenonTime = &ts
	}

	results := make([]Result, 0, len(converted))
	for field, prop := range t.spec.Rename {
		if prop == sensorthings.PhenomenonTime {
			continue
		}
		results = append(results, Result{
			Observation: sensorthings.Observation{
				Result:         converted[field],
				PhenomenonTime: phenomenonTime,
			},
			Property: prop,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Property < results[j].Property
	})

	return results, nil
}
