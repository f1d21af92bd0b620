package storage

import (
	"context"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/multicareConsortium/st-utils/internal/app/bridge"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// RecordingUploader decorates an uploader with the delivered observation
// archive. Archive failures are logged but never fail the upload, delivery
// to the remote store is the source of truth.
type RecordingUploader struct {
	next    bridge.ObservationUploader
	archive *Archive
}

func NewRecordingUploader(next bridge.ObservationUploader, archive *Archive) *RecordingUploader {
	return &RecordingUploader{next: next, archive: archive}
}

func (u *RecordingUploader) UploadObservation(ctx context.Context, sensorID sensorthings.SensorID, obs sensorthings.Observation, property sensorthings.ObservedProperty, appName string) error {
	err := u.next.UploadObservation(ctx, sensorID, obs, property, appName)
	if err != nil {
		return err
	}

	err = u.archive.Insert(ctx, appName, sensorID, property, obs)
	if err != nil {
		log := logging.GetFromContext(ctx)
		log.Warn("could not archive delivered observation", "sensor", sensorID, "err", err.Error())
	}

	return nil
}
