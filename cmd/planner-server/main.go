// QuangStationV2 Planner Server
// HTTP + WebSocket front end for the dose-calculation and optimization
// engine: submit plans, poll status, subscribe to live progress, and
// cancel a running computation.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/QuangMacHUST/QuangStationV2/internal/api"
	"github.com/QuangMacHUST/QuangStationV2/internal/config"
)

const defaultPort = 8080

func main() {
	port := flag.Int("port", defaultPort, "HTTP server port")
	configPath := flag.String("config", "", "path to a JSON configuration file (defaults to built-in defaults)")
	cfg := config.Default()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("[SERVER] failed to load config: %v", err)
		}
		// Flags set explicitly on the command line override the file.
		overrides := flag.NewFlagSet("overrides", flag.ContinueOnError)
		loaded.BindFlags(overrides)
		flag.Visit(func(f *flag.Flag) {
			if overrides.Lookup(f.Name) != nil {
				overrides.Set(f.Name, f.Value.String())
			}
		})
		cfg = loaded
	}

	log.Println("==============================================")
	log.Println("  QuangStationV2 Planner Server")
	log.Println("  Dose Calculation & Optimization Engine")
	log.Println("==============================================")
	log.Printf("Port: %d", *port)
	log.Printf("Dose algorithm: %s", cfg.DoseCalculation.Algorithm)
	log.Printf("Optimizer: %s", cfg.Optimization.Algorithm)
	log.Println("==============================================")

	server := api.NewServer(*port, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("[SERVER] server error: %v", err)
	case <-quit:
		log.Println("[SERVER] shutdown signal received")
	}
}
