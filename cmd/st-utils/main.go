package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"

	"github.com/multicareConsortium/st-utils/internal/app/bridge"
	"github.com/multicareConsortium/st-utils/internal/pkg/config"
	"github.com/multicareConsortium/st-utils/internal/pkg/frost"
	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
	"github.com/multicareConsortium/st-utils/internal/pkg/presentation/api"
	"github.com/multicareConsortium/st-utils/internal/pkg/storage"
)

const serviceName string = "st-utils"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx, log, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	var opa, sensorDir string

	flag.StringVar(&opa, "policies", "/opt/st-utils/config/authz.rego", "An authorization policy file")
	flag.StringVar(&sensorDir, "sensors", "/opt/st-utils/config/sensors", "A directory of sensor configuration files")
	flag.Parse()

	settings := config.LoadSettings(ctx)
	mon := monitor.New()

	apps, registry, err := config.LoadApplications(ctx, sensorDir, mon)
	if err != nil {
		log.Error("could not load sensor configurations", "err", err.Error())
		os.Exit(1)
	}
	if len(apps) == 0 {
		log.Error("no valid sensor configurations found", "dir", sensorDir)
		os.Exit(1)
	}

	for sensorID := range registry {
		appName := appNameForSensor(apps, string(sensorID))
		mon.ExpectSensor(appName, string(sensorID))
	}

	client := frost.New(settings.FrostURL, settings.FrostUser, settings.FrostPassword, mon)

	var uploader bridge.ObservationUploader = client

	if settings.ArchiveEnabled() {
		archive, err := storage.New(ctx, storage.Config{
			Host:     settings.PostgresHost,
			Port:     settings.PostgresPort,
			DBName:   settings.PostgresDBName,
			User:     settings.PostgresUser,
			Password: settings.PostgresPassword,
			SSLMode:  settings.PostgresSSLMode,
		})
		if err != nil {
			log.Error("could not configure observation archive", "err", err.Error())
			os.Exit(1)
		}
		defer archive.Close()

		uploader = storage.NewRecordingUploader(client, archive)
	}

	conns := make([]bridge.Connection, 0, len(apps))

	for _, app := range apps {
		err = client.InitialSetup(ctx, app.Arrangement)
		if err != nil {
			log.Error("initial setup failed, skipping application", "application", app.Bridge.AppName, "err", err.Error())
			mon.ConfigFailure()
			continue
		}

		conn, err := bridge.NewConnection(app.Bridge, bridge.Deps{Store: uploader, Monitor: mon})
		if err != nil {
			log.Error("could not build connection", "application", app.Bridge.AppName, "err", err.Error())
			mon.ConfigFailure()
			continue
		}

		conns = append(conns, conn)
	}

	conns = bridge.Dedupe(conns)

	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, c.AppName())
	}
	mon.SetStartingConnections(names)

	for _, c := range conns {
		err = c.Start(ctx, registry)
		if err != nil {
			log.Error("could not start connection", "application", c.AppName(), "err", err.Error())
			mon.ConfigFailure()
		}
	}

	policies, err := os.Open(opa)
	if err != nil {
		log.Error("unable to open opa policy file", "err", err.Error())
		os.Exit(1)
	}

	r, err := api.Register(ctx, mon, policies)
	policies.Close()
	if err != nil {
		log.Error("could not setup router", "err", err.Error())
		os.Exit(1)
	}

	webServer := &http.Server{Addr: settings.ListenAddr, Handler: r}

	go func() {
		if err := webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("could not listen and serve", "err", err.Error())
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s := <-sigChan
		log.Debug("received signal", "signal", s)
		cancel()
	}()

	mon.Report(ctx, settings.ReportInterval, settings.SnapshotPath)

	for _, c := range conns {
		err = c.Stop()
		if err != nil {
			log.Error("could not stop connection", "err", err.Error())
		}
	}

	webServer.Shutdown(context.Background())

	log.Info("shutting down")
}

func appNameForSensor(apps []config.Application, sensorID string) string {
	for _, app := range apps {
		for _, s := range app.Arrangement.Sensors {
			if s.Name() == sensorID {
				return app.Bridge.AppName
			}
		}
	}
	return ""
}
