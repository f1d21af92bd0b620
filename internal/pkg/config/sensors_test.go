package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/multicareConsortium/st-utils/internal/app/bridge"
	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

func TestLoadApplications(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	t.Setenv("APP_OFFICE_PASSWORD", "hunter2")

	dir := t.TempDir()
	writeFile(t, dir, "office.yaml", officeConfig)

	mon := monitor.New()

	apps, registry, err := LoadApplications(ctx, dir, mon)
	is.NoErr(err)
	is.Equal(len(apps), 1)

	app := apps[0]
	is.Equal(app.Bridge.AppName, "office")
	is.Equal(app.Bridge.Kind, "mqtt")
	is.Equal(app.Bridge.AuthKind, bridge.AuthCredentials)
	is.Equal(app.Bridge.Username, "office")
	is.Equal(app.Bridge.Password, "hunter2")
	is.Equal(app.Bridge.Interval, time.Minute)
	is.Equal(app.Bridge.MaxRetries, 5)
	is.Equal(app.Model, sensorthings.MilesightAM308L)

	is.Equal(registry["24e124725d395889"], sensorthings.MilesightAM308L)

	is.Equal(len(app.Arrangement.Sensors), 1)
	is.Equal(app.Arrangement.Sensors[0].Name(), "24e124725d395889")
	is.Equal(app.Arrangement.Datastreams[0].Links().Sensors[0], "24e124725d395889")

	is.Equal(mon.Snapshot().ConfigFailures, 0)
}

func TestLoadApplicationsSkipsInvalidFiles(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	t.Setenv("APP_OFFICE_PASSWORD", "hunter2")

	dir := t.TempDir()
	writeFile(t, dir, "office.yaml", officeConfig)
	writeFile(t, dir, "broken.yaml", brokenConfig)

	mon := monitor.New()

	apps, registry, err := LoadApplications(ctx, dir, mon)
	is.NoErr(err)
	is.Equal(len(apps), 1) // the valid file still loads
	is.Equal(len(registry), 1)
	is.Equal(mon.Snapshot().ConfigFailures, 1)
}

func TestLoadApplicationsRequiresCredentials(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, dir, "office.yaml", officeConfig)

	mon := monitor.New()

	apps, _, err := LoadApplications(ctx, dir, mon)
	is.NoErr(err)
	is.Equal(len(apps), 0)
	is.Equal(mon.Snapshot().ConfigFailures, 1)
}

func TestLoadApplicationsRejectsUnknownModel(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	t.Setenv("APP_OFFICE_PASSWORD", "hunter2")

	dir := t.TempDir()
	writeFile(t, dir, "office.yaml", strings.Replace(officeConfig, "milesight.am308l", "acme.rocket", 1))

	mon := monitor.New()

	apps, _, err := LoadApplications(ctx, dir, mon)
	is.NoErr(err)
	is.Equal(len(apps), 0)
	is.Equal(mon.Snapshot().ConfigFailures, 1)
}

func TestEntityPropertiesMarshalAfterYAMLLoad(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	t.Setenv("APP_OFFICE_PASSWORD", "hunter2")

	dir := t.TempDir()
	writeFile(t, dir, "office.yaml", officeConfig)

	apps, _, err := LoadApplications(ctx, dir, monitor.New())
	is.NoErr(err)

	// nested yaml maps must not leak interface-keyed maps into json
	body := apps[0].Arrangement.Locations[0].Body()
	is.True(len(body) > 0)
}

func TestCredentialVar(t *testing.T) {
	is := is.New(t)

	is.Equal(credentialVar("weather-app.prod", "TOKEN"), "APP_WEATHER_APP_PROD_TOKEN")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
	if err != nil {
		t.Fatal(err)
	}
}

const officeConfig = `network_metadata:
  application_name: office
  kind: mqtt
  auth: credentials
  host: eu1.cloud.thethings.network
  port: 8883
  interval: 60s
  max_retries: 5
  sensor_model: milesight.am308l
sensors:
  - name: "24e124725d395889"
    description: indoor air quality sensor
    encodingType: application/pdf
    metadata: https://example.com/am308.pdf
    iot_links:
      datastreams: [co2]
things:
  - name: office
    description: head office
    iot_links:
      datastreams: [co2]
      locations: [office-location]
locations:
  - name: office-location
    description: street address
    encodingType: application/geo+json
    location:
      type: Point
      coordinates: [17.3, 62.4]
datastreams:
  - name: co2
    description: co2 readings
    observationType: http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Measurement
    unitOfMeasurement:
      name: parts per million
      symbol: ppm
    iot_links:
      sensors: ["24e124725d395889"]
      things: [office]
      observedProperties: [co2]
observed_properties:
  - name: co2
    description: carbon dioxide concentration
    definition: https://example.com/co2
`

const brokenConfig = `network_metadata:
  application_name: broken
  kind: mqtt
  auth: credentials
  host: eu1.cloud.thethings.network
  sensor_model: milesight.am308l
sensors:
  - name: "aabbccdd"
    description: sensor without datastreams
    encodingType: application/pdf
`
