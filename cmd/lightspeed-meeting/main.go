package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-meeting/auth"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/persistence"
	"github.com/tcriess/lightspeed-meeting/presence"
	"github.com/tcriess/lightspeed-meeting/room"
	"github.com/tcriess/lightspeed-meeting/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	policy, err := room.ParseSuccessionPolicy(globalConfig.SessionConfig.Succession)
	if err != nil {
		globals.AppLogger.Error("invalid succession policy", "error", err)
		os.Exit(1)
	}

	notifier, err := persistence.NewNotifier(globalConfig)
	if err != nil {
		globals.AppLogger.Error("could not set up notifications", "error", err)
		os.Exit(1)
	}
	if notifier != nil {
		defer notifier.Close()
	}

	var authenticator *auth.Authenticator
	if len(globalConfig.OIDCConfigs) > 0 {
		authenticator, err = auth.NewAuthenticator(globalConfig)
		if err != nil {
			globals.AppLogger.Error("could not set up authentication", "error", err)
			os.Exit(1)
		}
	}

	registry := room.NewRegistry(
		room.WithIdleTimeout(globalConfig.SessionConfig.RoomIdleTimeout),
		room.WithSuccessionPolicy(policy),
	)
	presenceManager := presence.NewManager(registry, globalConfig.SessionConfig.GracePeriod, globals.AppLogger.Named("presence"))
	hub, err := ws.NewHub(globalConfig, registry, presenceManager, notifier, globals.AppLogger.Named("hub"))
	if err != nil {
		globals.AppLogger.Error("could not create hub", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	router := mux.NewRouter()
	ws.NewHandler(hub, auth.NewResolver(globalConfig, authenticator)).RegisterRoutes(router)
	srv := &http.Server{
		Addr:    globalConfig.Addr,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		globals.AppLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	globals.AppLogger.Info("listening", "addr", globalConfig.Addr, "succession", policy, "grace_period", globalConfig.SessionConfig.GracePeriod)
	if *sslCert != "" && *sslKey != "" {
		err = srv.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		globals.AppLogger.Error("stopped listening", "error", err)
	}
}
