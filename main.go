// main.go
package main

import (
	"fmt"
	"os"

	"github.com/phuslu/log"

	"threadkit/internal/config"
	"threadkit/internal/logger"
)

var (
	version = "0.1.0"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// -generate-config
		return
	}

	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start threadkit")
	}
	if err := d.Run(); err != nil {
		log.Fatal().Err(err).Msg("threadkit exited with error")
	}
}
