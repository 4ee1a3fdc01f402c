package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/platform"
	"github.com/srg/blescan/internal/platform/goble"
	"github.com/srg/blescan/internal/platform/sim"
	"github.com/srg/blescan/internal/platform/tinygo"
	"github.com/srg/blescan/pkg/config"
)

// openPlatform creates the configured backend and points the process-wide
// handle registry at the command logger. The returned release func must be
// called once the adapters are closed.
//
//nolint:gochecknoglobals // overridable for tests
var openPlatform = func(cfg *config.Config, logger *logrus.Logger) (platform.Platform, func(), error) {
	mode, err := native.ParseMode(cfg.RegistryMode)
	if err != nil {
		return nil, nil, err
	}
	native.Default().SetMode(mode)
	native.Default().SetLogger(logger)

	switch cfg.Backend {
	case goble.Name:
		p := goble.New(goble.Options{
			AllowDuplicates: cfg.AllowDuplicates,
			StartGrace:      cfg.StartGrace,
			Logger:          logger,
		})
		return p, func() {
			if err := p.Close(); err != nil {
				logger.WithError(err).Warn("Failed to release go-ble devices")
			}
		}, nil
	case tinygo.Name:
		return tinygo.New(nil, tinygo.Options{StartGrace: cfg.StartGrace, Logger: logger}), func() {}, nil
	case sim.Name:
		return sim.New(sim.Config{Beacons: sim.DefaultBeacons(), Logger: logger}), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
