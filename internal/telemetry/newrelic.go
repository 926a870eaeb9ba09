package telemetry

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/config"
)

// InitNewRelic initializes the New Relic application. It returns nil, nil
// when no license key is configured.
func InitNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return nil, nil
	}

	appName := cfg.AppName
	if appName == "" {
		appName = "runback"
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(appName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return nil, err
	}

	// Wait for the application to connect
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		log.Warn().Err(err).Msg("New Relic did not connect yet, continuing")
	}

	return app, nil
}

// Shutdown flushes pending data
func Shutdown(app *newrelic.Application) {
	if app != nil {
		app.Shutdown(10 * time.Second)
	}
}
