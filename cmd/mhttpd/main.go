// Command mhttpd runs the assembled HTTP/FastCGI edge server from a
// JSON configuration file. It is a thin convenience wrapper around
// package core; production deployments are expected to embed core
// directly rather than shell out to this binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	core "github.com/mhttpd/core"
)

type logrusAdapter struct{ log *logrus.Logger }

func (a logrusAdapter) Printf(format string, args ...interface{}) {
	a.log.Printf(format, args...)
}

func main() {
	configPath := flag.String("config", "mhttpd.json", "path to JSON configuration file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	raw, err := os.ReadFile(*configPath)
	if err != nil {
		log.WithError(err).Fatal("mhttpd: reading configuration")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		log.WithError(err).Fatal("mhttpd: parsing configuration")
	}

	cfg, err := core.FromMap(m)
	if err != nil {
		log.WithError(err).Fatal("mhttpd: decoding configuration")
	}
	cfg.Logger = logrusAdapter{log}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	srv, err := core.New(*cfg)
	if err != nil {
		log.WithError(err).Fatal("mhttpd: assembling server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), cfg.ShutdownSignals()...)
	defer stop()

	log.Infof("mhttpd: listening on %s:%d", cfg.Server.Address, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.WithError(err).Error("mhttpd: main loop exited")
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("mhttpd: shutdown")
	}
}
