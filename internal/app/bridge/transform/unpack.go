package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// ErrUnpack marks structural failures in a vendor uplink message. Unpack
// errors are logged and skipped by the connection loop, they never count
// toward the retry budget.
var ErrUnpack = errors.New("unpack failed")

// NativePayload is a vendor uplink message stripped of protocol and
// application metadata, keyed by device id, still using vendor field names.
// A successful unpack always carries data for at least one device.
type NativePayload struct {
	Data            map[sensorthings.SensorID]map[string]any
	ApplicationTime *time.Time
}

// SensorIDs returns the device ids present in the payload.
func (p NativePayload) SensorIDs() []sensorthings.SensorID {
	ids := make([]sensorthings.SensorID, 0, len(p.Data))
	for id := range p.Data {
		ids = append(ids, id)
	}
	return ids
}

// Unpacker turns one raw application uplink into a NativePayload. There is
// one unpacker per vendor integration pattern, not per device model.
type Unpacker func(raw []byte) (NativePayload, error)

type ttsUplink struct {
	EndDeviceIDs struct {
		DevEUI string `json:"dev_eui"`
	} `json:"end_device_ids"`
	UplinkMessage struct {
		DecodedPayload map[string]any `json:"decoded_payload"`
		RxMetadata     []struct {
			ReceivedAt time.Time `json:"received_at"`
		} `json:"rx_metadata"`
	} `json:"uplink_message"`
}

// UnpackTTS unpacks an uplink message from a The Things Stack MQTT
// subscription. The device id is the hardware EUI and the application
// timestamp is taken from the gateway reception metadata.
func UnpackTTS(raw []byte) (NativePayload, error) {
	var uplink ttsUplink

	err := json.Unmarshal(raw, &uplink)
	if err != nil {
		return NativePayload{}, fmt.Errorf("%w: %s", ErrUnpack, err.Error())
	}

	if uplink.EndDeviceIDs.DevEUI == "" {
		return NativePayload{}, fmt.Errorf("%w: missing end_device_ids.dev_eui", ErrUnpack)
	}
	if len(uplink.UplinkMessage.DecodedPayload) == 0 {
		return NativePayload{}, fmt.Errorf("%w: missing uplink_message.decoded_payload", ErrUnpack)
	}
	if len(uplink.UplinkMessage.RxMetadata) == 0 {
		return NativePayload{}, fmt.Errorf("%w: missing uplink_message.rx_metadata", ErrUnpack)
	}

	receivedAt := uplink.UplinkMessage.RxMetadata[0].ReceivedAt

	return NativePayload{
		Data: map[sensorthings.SensorID]map[string]any{
			uplink.EndDeviceIDs.DevEUI: uplink.UplinkMessage.DecodedPayload,
		},
		ApplicationTime: &receivedAt,
	}, nil
}

type weatherStationDevice struct {
	ID            *string        `json:"_id"`
	Reachable     *bool          `json:"reachable"`
	DashboardData map[string]any `json:"dashboard_data"`
}

// UnpackWeatherStation unpacks the station list returned by an HTTP-polled
// weather station API. Stations reported unreachable are omitted rather than
// fabricated as empty data; a payload left with no reachable station at all
// is an unpack failure.
func UnpackWeatherStation(raw []byte) (NativePayload, error) {
	var devices []weatherStationDevice

	err := json.Unmarshal(raw, &devices)
	if err != nil {
		return NativePayload{}, fmt.Errorf("%w: %s", ErrUnpack, err.Error())
	}

	data := make(map[sensorthings.SensorID]map[string]any)

	for i, d := range devices {
		if d.ID == nil || d.Reachable == nil {
			return NativePayload{}, fmt.Errorf("%w: device %d is missing _id or reachable", ErrUnpack, i)
		}
		if !*d.Reachable {
			continue
		}
		if d.DashboardData == nil {
			return NativePayload{}, fmt.Errorf("%w: device %s is missing dashboard_data", ErrUnpack, *d.ID)
		}
		data[*d.ID] = d.DashboardData
	}

	if len(data) == 0 {
		return NativePayload{}, fmt.Errorf("%w: no reachable devices in payload", ErrUnpack)
	}

	return NativePayload{Data: data}, nil
}
