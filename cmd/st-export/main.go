package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"

	"github.com/multicareConsortium/st-utils/internal/pkg/config"
	"github.com/multicareConsortium/st-utils/internal/pkg/frost"
	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
)

const serviceName string = "st-export"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	var thing, datastream, out, fromArg, toArg string

	flag.StringVar(&thing, "thing", "", "Name of the thing to export observations for")
	flag.StringVar(&datastream, "datastream", "", "Name of the datastream to export")
	flag.StringVar(&out, "out", "observations.csv", "Output file")
	flag.StringVar(&fromArg, "from", "", "Start of the export window (RFC 3339)")
	flag.StringVar(&toArg, "to", "", "End of the export window (RFC 3339)")
	flag.Parse()

	if thing == "" || datastream == "" {
		log.Error("both -thing and -datastream are required")
		os.Exit(1)
	}

	from, err := parseTimeArg(fromArg)
	if err != nil {
		log.Error("invalid -from argument", "err", err.Error())
		os.Exit(1)
	}

	to, err := parseTimeArg(toArg)
	if err != nil {
		log.Error("invalid -to argument", "err", err.Error())
		os.Exit(1)
	}

	settings := config.LoadSettings(ctx)
	client := frost.New(settings.FrostURL, settings.FrostUser, settings.FrostPassword, monitor.New())

	link, err := client.ObservationsLinkFromThing(ctx, thing, datastream)
	if err != nil {
		log.Error("could not resolve datastream", "thing", thing, "datastream", datastream, "err", err.Error())
		os.Exit(1)
	}

	observations, err := client.FetchObservations(ctx, link, from, to)
	if err != nil {
		log.Error("could not fetch observations", "err", err.Error())
		os.Exit(1)
	}

	ds := frost.CuratedDataSet{
		Metadata: map[string]string{
			"thing":      thing,
			"datastream": datastream,
		},
		Observations: observations,
	}

	f, err := os.Create(out)
	if err != nil {
		log.Error("could not create output file", "file", out, "err", err.Error())
		os.Exit(1)
	}
	defer f.Close()

	err = ds.WriteCSV(f)
	if err != nil {
		log.Error("could not write csv", "err", err.Error())
		os.Exit(1)
	}

	log.Info("export complete", "file", out, "observations", len(observations))
}

func parseTimeArg(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
