package frost

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/multicareConsortium/st-utils/pkg/sensorthings"
)

// ObservationsLinkFromThing resolves the observations collection for a
// thing and datastream name pair, the entry point for data exports.
func (c *Client) ObservationsLinkFromThing(ctx context.Context, thingName, datastreamName string) (string, error) {
	things, err := c.filterQuery(ctx, "/Things", nameFilter(thingName))
	if err != nil {
		return "", err
	}
	if len(things.Value) == 0 {
		return "", fmt.Errorf("no thing named %q on remote store", thingName)
	}

	datastreamsURL, ok := things.Value[0]["Datastreams@iot.navigationLink"].(string)
	if !ok {
		return "", fmt.Errorf("thing %q exposes no datastreams link", thingName)
	}

	datastreams, err := c.filterQuery(ctx, datastreamsURL, nameFilter(datastreamName))
	if err != nil {
		return "", err
	}
	if len(datastreams.Value) == 0 {
		return "", fmt.Errorf("no datastream named %q for thing %q", datastreamName, thingName)
	}

	observationsURL, ok := datastreams.Value[0]["Observations@iot.navigationLink"].(string)
	if !ok {
		return "", fmt.Errorf("datastream %q exposes no observations link", datastreamName)
	}

	return observationsURL, nil
}

// FetchObservations downloads a set of observations, following the
// server's paging links until exhausted. The optional bounds filter on
// phenomenon time.
func (c *Client) FetchObservations(ctx context.Context, observationsURL string, from, to *time.Time) ([]sensorthings.Observation, error) {
	params := url.Values{}
	params.Set("$select", "phenomenonTime, resultTime, result")

	if from != nil {
		filter := fmt.Sprintf("phenomenonTime ge %s", from.UTC().Format(time.RFC3339))
		if to != nil {
			filter += fmt.Sprintf(" and phenomenonTime le %s", to.UTC().Format(time.RFC3339))
		}
		params.Set("$filter", filter)
	}

	next := observationsURL + "?" + params.Encode()

	var observations []sensorthings.Observation

	for next != "" {
		body, err := c.getJSON(ctx, next)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value    []sensorthings.Observation `json:"value"`
			NextLink string                     `json:"@iot.nextLink"`
		}
		err = json.Unmarshal(body, &page)
		if err != nil {
			return nil, fmt.Errorf("could not decode observations page: %w", err)
		}

		observations = append(observations, page.Value...)
		next = page.NextLink
	}

	return observations, nil
}

// CuratedDataSet pairs downloaded observations with export metadata that is
// repeated on every CSV row.
type CuratedDataSet struct {
	Metadata     map[string]string
	Observations []sensorthings.Observation
}

// WriteCSV renders the dataset with one observation per row, metadata
// columns first in sorted order.
func (d CuratedDataSet) WriteCSV(w io.Writer) error {
	metaKeys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)

	cw := csv.NewWriter(w)

	header := append(append([]string{}, metaKeys...), "phenomenonTime", "resultTime", "result")
	err := cw.Write(header)
	if err != nil {
		return err
	}

	formatTime := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}

	for _, obs := range d.Observations {
		row := make([]string, 0, len(header))
		for _, k := range metaKeys {
			row = append(row, d.Metadata[k])
		}
		row = append(row, formatTime(obs.PhenomenonTime), formatTime(obs.ResultTime), fmt.Sprintf("%v", obs.Result))

		err = cw.Write(row)
		if err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
