// Command storefront is a terminal front end for the storefront backend.
//
// Configuration comes from STOREFRONT_* environment variables (a .env file
// is loaded first), an optional config file and the flags below. With -demo
// an in-process backend with a demo account is started instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/itsneelabh/storefront"
	"github.com/itsneelabh/storefront/internal/backendtest"
	"github.com/itsneelabh/storefront/internal/view"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	configFile := flag.String("config", "", "YAML or JSON config file")
	apiURL := flag.String("api", "", "backend base URL, overrides the configuration")
	demo := flag.Bool("demo", false, "start an in-process demo backend")
	currency := flag.String("currency", "$", "currency symbol")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("storefront %s (api %s, commit %s, built %s)\n",
			storefront.Version, storefront.APIVersion, storefront.GitCommit, storefront.BuildDate)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts []storefront.Option
	if *configFile != "" {
		opts = append(opts, storefront.WithConfigFile(*configFile))
	}
	if *apiURL != "" {
		opts = append(opts, storefront.WithAPIBaseURL(*apiURL))
	}
	if *demo {
		baseURL, stop, err := startDemoBackend()
		if err != nil {
			log.Fatalf("Failed to start demo backend: %v", err)
		}
		defer stop()
		fmt.Printf("Demo backend at %s, log in with %s / %s\n", baseURL, demoEmail, demoPassword)
		opts = append(opts, storefront.WithAPIBaseURL(baseURL))
	}

	if err := run(ctx, *currency, opts); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, currency string, opts []storefront.Option) error {
	app, err := storefront.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			app.Logger.Error("Shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
	}()

	renderer, err := view.New(currency)
	if err != nil {
		return err
	}
	return newShell(app.Controller, renderer, os.Stdin, os.Stdout).Run(ctx)
}

func startDemoBackend() (baseURL string, stop func(), err error) {
	srv := backendtest.New()
	if _, err := srv.AddUser("Demo", demoEmail, demoPassword); err != nil {
		return "", nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Demo backend stopped: %v", err)
		}
	}()

	stop = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String() + backendtest.Prefix, stop, nil
}
