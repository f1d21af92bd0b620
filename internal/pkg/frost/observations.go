package frost

import (
	"context"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

var tracer = otel.Tracer("st-utils/frost")

// FindDatastreamURL resolves the observations push URL for a sensor and
// datastream name pair: sensor by name, then its datastreams navigation
// link, then the datastream by name, then its observations link. An empty
// result means setup never ran for this pair; callers must treat that as a
// non-fatal, logged condition.
func (c *Client) FindDatastreamURL(ctx context.Context, sensorName, datastreamName string) (string, error) {
	log := logging.GetFromContext(ctx)

	sensors, err := c.filterQuery(ctx, "/Sensors", nameFilter(sensorName))
	if err != nil {
		return "", err
	}
	if len(sensors.Value) == 0 {
		log.Warn("sensor not found on remote store", "sensor", sensorName)
		return "", nil
	}

	datastreamsURL, ok := sensors.Value[0]["Datastreams@iot.navigationLink"].(string)
	if !ok {
		return "", fmt.Errorf("sensor %q exposes no datastreams link", sensorName)
	}

	datastreams, err := c.filterQuery(ctx, datastreamsURL, nameFilter(datastreamName))
	if err != nil {
		return "", err
	}
	if len(datastreams.Value) == 0 {
		log.Warn("datastream not found for sensor", "sensor", sensorName, "datastream", datastreamName)
		return "", nil
	}

	observationsURL, ok := datastreams.Value[0]["Observations@iot.navigationLink"].(string)
	if !ok {
		return "", fmt.Errorf("datastream %q exposes no observations link", datastreamName)
	}

	return observationsURL, nil
}

// UploadObservation resolves the push URL for the sensor/property pair and
// POSTs the observation. Successes and failures are recorded per sensor in
// the monitor; any failure is wrapped in ErrUpload so the connection loop
// counts it toward the retry budget.
func (c *Client) UploadObservation(ctx context.Context, sensorID sensorthings.SensorID, obs sensorthings.Observation, property sensorthings.ObservedProperty, appName string) error {
	var err error

	ctx, span := tracer.Start(ctx, "upload-observation")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
	_, ctx, log := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	pushURL, err := c.FindDatastreamURL(ctx, sensorID, property.String())
	if err == nil && pushURL == "" {
		err = fmt.Errorf("no datastream for sensor %q and property %q, has setup run?", sensorID, property)
	}
	if err != nil {
		c.monitor.PushFailed(appName, sensorID)
		err = fmt.Errorf("%w: %s", ErrUpload, err.Error())
		return err
	}

	_, err = c.post(ctx, pushURL, obs.Body())
	if err != nil {
		c.monitor.PushFailed(appName, sensorID)
		err = fmt.Errorf("%w: %s", ErrUpload, err.Error())
		return err
	}

	c.monitor.PushSucceeded(appName, sensorID)
	log.Debug("uploaded observation", "sensor", sensorID, "property", property.String())

	return nil
}
