package transform

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestUnpackTTSKeysDataByHardwareEUI(t *testing.T) {
	is := is.New(t)

	payload, err := UnpackTTS([]byte(ttsUplinkMsg))
	is.NoErr(err)

	data, ok := payload.Data["24e124725d395889"]
	is.True(ok)
	is.Equal(data["co2"], 4665.0)
	is.Equal(data["pir"], "trigger")

	is.True(payload.ApplicationTime != nil)
	is.Equal(*payload.ApplicationTime, time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
}

func TestUnpackTTSRequiresDeviceID(t *testing.T) {
	is := is.New(t)

	_, err := UnpackTTS([]byte(`{"end_device_ids":{},"uplink_message":{"decoded_payload":{"co2":400},"rx_metadata":[{"received_at":"2025-03-14T09:26:53Z"}]}}`))
	is.True(errors.Is(err, ErrUnpack))
}

func TestUnpackTTSRequiresDecodedPayload(t *testing.T) {
	is := is.New(t)

	_, err := UnpackTTS([]byte(`{"end_device_ids":{"dev_eui":"24e124725d395889"},"uplink_message":{"rx_metadata":[{"received_at":"2025-03-14T09:26:53Z"}]}}`))
	is.True(errors.Is(err, ErrUnpack))
}

func TestUnpackTTSRequiresReceptionMetadata(t *testing.T) {
	is := is.New(t)

	_, err := UnpackTTS([]byte(`{"end_device_ids":{"dev_eui":"24e124725d395889"},"uplink_message":{"decoded_payload":{"co2":400}}}`))
	is.True(errors.Is(err, ErrUnpack))
}

func TestUnpackWeatherStationOmitsUnreachableDevices(t *testing.T) {
	is := is.New(t)

	payload, err := UnpackWeatherStation([]byte(weatherStationMsg))
	is.NoErr(err)

	is.Equal(len(payload.Data), 1)
	_, ok := payload.Data["70:ee:50:3f:4d:26"]
	is.True(ok)
}

func TestUnpackWeatherStationFailsWhenAllUnreachable(t *testing.T) {
	is := is.New(t)

	_, err := UnpackWeatherStation([]byte(`[{"_id":"70:ee:50:3f:4d:26","reachable":false}]`))
	is.True(errors.Is(err, ErrUnpack))
}

func TestUnpackWeatherStationRequiresReachabilityFlag(t *testing.T) {
	is := is.New(t)

	_, err := UnpackWeatherStation([]byte(`[{"_id":"70:ee:50:3f:4d:26","dashboard_data":{"Temperature":21.4}}]`))
	is.True(errors.Is(err, ErrUnpack))
}

const ttsUplinkMsg = `{
	"end_device_ids": {
		"device_id": "office-am308",
		"dev_eui": "24e124725d395889"
	},
	"uplink_message": {
		"f_port": 85,
		"decoded_payload": {
			"battery": 76,
			"co2": 4665,
			"humidity": 35.5,
			"light_level": 2,
			"pir": "trigger",
			"pm10": 15,
			"pm2_5": 10,
			"pressure": 1008.4,
			"temperature": 21.9,
			"tvoc": 222
		},
		"rx_metadata": [
			{
				"gateway_ids": {"gateway_id": "main-gw"},
				"received_at": "2025-03-14T09:26:53Z"
			}
		]
	}
}`

const weatherStationMsg = `[
	{
		"_id": "70:ee:50:3f:4d:26",
		"reachable": true,
		"dashboard_data": {
			"time_utc": 1741944413,
			"Temperature": 21.4,
			"CO2": 512,
			"Humidity": 41,
			"Noise": 38,
			"Pressure": 1012.3
		}
	},
	{
		"_id": "70:ee:50:17:ca:ff",
		"reachable": false
	}
]`
