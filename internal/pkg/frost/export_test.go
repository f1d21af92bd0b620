package frost

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

func TestObservationsLinkFromThing(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	_, srv := newFakeFrost(t)
	client := New(srv.URL+"/v1.1", "user", "pass", monitor.New())

	err := client.InitialSetup(ctx, testArrangement())
	is.NoErr(err)

	link, err := client.ObservationsLinkFromThing(ctx, "office", "co2")
	is.NoErr(err)
	is.True(strings.HasSuffix(link, "/Observations"))

	_, err = client.ObservationsLinkFromThing(ctx, "warehouse", "co2")
	is.True(err != nil)
}

func TestFetchObservationsRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	_, srv := newFakeFrost(t)
	mon := monitor.New()
	client := New(srv.URL+"/v1.1", "user", "pass", mon)

	err := client.InitialSetup(ctx, testArrangement())
	is.NoErr(err)

	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := ts.Add(time.Duration(i) * time.Minute)
		err = client.UploadObservation(ctx, "24e124725d395889", sensorthings.Observation{Result: float64(400 + i), PhenomenonTime: &at}, sensorthings.CO2, "office")
		is.NoErr(err)
	}

	link, err := client.ObservationsLinkFromThing(ctx, "office", "co2")
	is.NoErr(err)

	observations, err := client.FetchObservations(ctx, link, nil, nil)
	is.NoErr(err)
	is.Equal(len(observations), 3)
	is.Equal(observations[0].Result, 400.0)
}

func TestWriteCSV(t *testing.T) {
	is := is.New(t)

	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	ds := CuratedDataSet{
		Metadata: map[string]string{
			"thing":      "office",
			"datastream": "co2",
		},
		Observations: []sensorthings.Observation{
			{Result: 400.0, PhenomenonTime: &ts},
			{Result: 512.0},
		},
	}

	var sb strings.Builder
	err := ds.WriteCSV(&sb)
	is.NoErr(err)

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	is.Equal(len(lines), 3)
	is.Equal(lines[0], "datastream,thing,phenomenonTime,resultTime,result")
	is.Equal(lines[1], "co2,office,2025-03-14T09:26:53Z,,400")
	is.Equal(lines[2], "co2,office,,,512")
}
