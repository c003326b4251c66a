// Command consumer drains the casting events queue into the events log.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/logging"
	"github.com/iliyamo/casting-agency/internal/queue"
)

func main() {
	cfg := config.LoadConsumer()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	out, err := queue.OpenEventLog(cfg.Events.LogPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open event log")
	}
	defer out.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := queue.NewConsumer(cfg.Events.URL, cfg.Events.Queue, out, logger.WithField("component", "consumer"))
	logger.WithFields(logrus.Fields{"queue": cfg.Events.Queue, "path": cfg.Events.LogPath}).Info("starting event consumer")
	if err := c.Run(ctx); err != nil {
		logger.WithError(err).Fatal("consumer stopped")
	}
	logger.Info("consumer stopped")
}
