package frost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// expectedLinks lists the navigation links each created entity type exposes,
// read back after creation so callers can chain further creation calls.
var expectedLinks = map[sensorthings.EntityType][]string{
	sensorthings.TypeSensor:           {"Datastreams"},
	sensorthings.TypeDatastream:       {"ObservedProperties", "Observations", "Sensors", "Things"},
	sensorthings.TypeObservedProperty: {"Datastreams"},
	sensorthings.TypeThing:            {"Datastreams", "HistoricalLocations", "Locations"},
	sensorthings.TypeLocation:         {"HistoricalLocations", "Things"},
}

// Exists reports whether an entity with the same name is already present
// on the remote store. Datastreams sharing a display name are disambiguated
// by the sensor they belong to.
func (c *Client) Exists(ctx context.Context, entity sensorthings.Entity) (bool, error) {
	result, err := c.filterQuery(ctx, "/"+entity.EntityType().Collection(), nameFilter(entity.Name()))
	if err != nil {
		return false, err
	}

	if entity.EntityType() != sensorthings.TypeDatastream {
		return len(result.Value) > 0, nil
	}

	linkedSensors := entity.Links().Sensors
	if len(linkedSensors) == 0 {
		return false, fmt.Errorf("datastream %q has no linked sensor to disambiguate by", entity.Name())
	}

	for _, ds := range result.Value {
		sensorURL, ok := ds["Sensor@iot.navigationLink"].(string)
		if !ok {
			continue
		}

		body, err := c.getJSON(ctx, sensorURL)
		if err != nil {
			return false, err
		}

		var sensor struct {
			Name string `json:"name"`
		}
		err = json.Unmarshal(body, &sensor)
		if err != nil {
			return false, err
		}

		if sensor.Name == linkedSensors[0] {
			return true, nil
		}
	}

	return false, nil
}

// CreateEntity creates the entity on the remote store unless one with the
// same name already exists, in which case it is skipped and an empty link
// map is returned. The existence check and the POST are not atomic: two
// creators racing on the same name can both pass the check, which is an
// accepted best-effort outcome. When parentURL is non-empty the entity is
// POSTed there instead of to its default collection, linking it to the
// parent resource.
func (c *Client) CreateEntity(ctx context.Context, entity sensorthings.Entity, parentURL string) (map[string]string, error) {
	log := logging.GetFromContext(ctx)

	exists, err := c.Exists(ctx, entity)
	if err != nil {
		return nil, err
	}
	if exists {
		log.Info("creation skipped, entity already exists", "type", string(entity.EntityType()), "name", entity.Name())
		return map[string]string{}, nil
	}

	target := parentURL
	if target == "" {
		target = c.baseURL + "/" + entity.EntityType().Collection()
	}

	location, err := c.post(ctx, target, entity.Body())
	if err != nil {
		return nil, err
	}

	log.Info("created entity", "type", string(entity.EntityType()), "name", entity.Name(), "url", location)

	body, err := c.getJSON(ctx, location)
	if err != nil {
		return nil, err
	}

	var created map[string]any
	err = json.Unmarshal(body, &created)
	if err != nil {
		return nil, err
	}

	links := map[string]string{"self_url": location}
	for _, rel := range expectedLinks[entity.EntityType()] {
		if nav, ok := created[rel+"@iot.navigationLink"].(string); ok {
			links[strings.ToLower(rel)+"_url"] = nav
		}
	}

	return links, nil
}

// CreateDatastream creates a datastream with its three foreign keys
// embedded directly. Unlike other entities, datastream creation requires
// resolved numeric ids rather than a navigable parent URL.
func (c *Client) CreateDatastream(ctx context.Context, ds *sensorthings.Datastream, sensorID, thingID, observedPropertyID int64) error {
	log := logging.GetFromContext(ctx)

	exists, err := c.Exists(ctx, ds)
	if err != nil {
		return err
	}
	if exists {
		log.Info("creation skipped, datastream already exists", "name", ds.Name())
		return nil
	}

	var body map[string]any
	err = json.Unmarshal(ds.Body(), &body)
	if err != nil {
		return err
	}

	body["Thing"] = map[string]any{"@iot.id": thingID}
	body["Sensor"] = map[string]any{"@iot.id": sensorID}
	body["ObservedProperty"] = map[string]any{"@iot.id": observedPropertyID}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	location, err := c.post(ctx, c.baseURL+"/Datastreams", b)
	if err != nil {
		return err
	}

	log.Info("created datastream", "name", ds.Name(), "url", location)

	return nil
}

// ResolveID looks up the server-assigned id of a named entity.
func (c *Client) ResolveID(ctx context.Context, t sensorthings.EntityType, name string) (int64, error) {
	result, err := c.filterQuery(ctx, "/"+t.Collection(), nameFilter(name))
	if err != nil {
		return 0, err
	}
	if len(result.Value) == 0 {
		return 0, fmt.Errorf("no %s named %q on remote store", t, name)
	}

	id, ok := result.Value[0]["@iot.id"].(float64)
	if !ok {
		return 0, fmt.Errorf("%s %q carries no numeric id", t, name)
	}

	return int64(id), nil
}

// InitialSetup creates the full entity graph of one arrangement in
// dependency order: things with their locations, then sensors and observed
// properties, then datastreams with their foreign keys resolved by name.
// It must run before any observation for the arrangement is uploaded.
// Re-running is safe, every creation is existence-checked.
func (c *Client) InitialSetup(ctx context.Context, arrangement *sensorthings.Arrangement) error {
	err := c.Ping(ctx)
	if err != nil {
		return err
	}

	for _, thing := range arrangement.Things {
		links, err := c.CreateEntity(ctx, thing, "")
		if err != nil {
			return fmt.Errorf("could not create thing %q: %w", thing.Name(), err)
		}

		locationsURL, ok := links["locations_url"]
		if !ok {
			// thing already existed, its locations did too
			continue
		}

		for _, name := range thing.Links().Locations {
			loc, found := arrangement.Get(sensorthings.TypeLocation, name)
			if !found {
				return fmt.Errorf("thing %q links unknown location %q", thing.Name(), name)
			}

			_, err = c.CreateEntity(ctx, loc, locationsURL)
			if err != nil {
				return fmt.Errorf("could not create location %q: %w", name, err)
			}
		}
	}

	for _, sensor := range arrangement.Sensors {
		_, err = c.CreateEntity(ctx, sensor, "")
		if err != nil {
			return fmt.Errorf("could not create sensor %q: %w", sensor.Name(), err)
		}
	}

	for _, op := range arrangement.ObservedProperties {
		_, err = c.CreateEntity(ctx, op, "")
		if err != nil {
			return fmt.Errorf("could not create observed property %q: %w", op.Name(), err)
		}
	}

	for _, ds := range arrangement.Datastreams {
		links := ds.Links()

		sensorID, err := c.ResolveID(ctx, sensorthings.TypeSensor, links.Sensors[0])
		if err != nil {
			return err
		}
		observedPropertyID, err := c.ResolveID(ctx, sensorthings.TypeObservedProperty, links.ObservedProperties[0])
		if err != nil {
			return err
		}
		thingID, err := c.ResolveID(ctx, sensorthings.TypeThing, links.Things[0])
		if err != nil {
			return err
		}

		err = c.CreateDatastream(ctx, ds, sensorID, thingID, observedPropertyID)
		if err != nil {
			return fmt.Errorf("could not create datastream %q: %w", ds.Name(), err)
		}
	}

	return nil
}

func nameFilter(name string) string {
	// single quotes in OData string literals are escaped by doubling
	return fmt.Sprintf("name eq '%s'", strings.ReplaceAll(name, "'", "''"))
}
