// Command notify-receiver accepts councilor webhook notifications and keeps
// the most recent ones in memory. It is meant for local development.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/djlord-it/councilor/internal/logging"
)

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	logger := logging.New(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"}).
		With().Str("component", "notify-receiver").Logger()

	rc := newReceiver(os.Getenv("NOTIFY_WEBHOOK_SECRET"), 50, logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           rc.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("addr", addr).Bool("verify", rc.secret != "").Msg("listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
