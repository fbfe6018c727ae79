package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/lightshow-kiosk/backend"
	"github.com/jrsteele09/lightshow-kiosk/gateway"
	"github.com/jrsteele09/lightshow-kiosk/internal/config"
	"github.com/jrsteele09/lightshow-kiosk/internal/logging"
	"github.com/jrsteele09/lightshow-kiosk/kiosk"
	"github.com/jrsteele09/lightshow-kiosk/nonce"
	"github.com/jrsteele09/lightshow-kiosk/oauthflow"
	"github.com/jrsteele09/lightshow-kiosk/session"
	"github.com/jrsteele09/lightshow-kiosk/sessionctx"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running kiosk")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Kiosk stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load()
	if err != nil {
		// Configuration does not fix itself on retry
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Setup(c.GetEnv(), c.GetLogLevel())
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, view, err := wire(ctx, c)
	if err != nil {
		return err
	}
	defer view.Stop()

	server := &http.Server{Addr: c.GetPort(), Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(server) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	return shutdown(server)
}

// wire builds the session lifecycle. The gateway comes first because the
// controller's own backend calls go through it; the controller is then
// registered back as the gateway's refresher.
func wire(ctx context.Context, c config.Config) (http.Handler, *sessionctx.Context, error) {
	httpClient, err := backend.NewHTTPClient(c.GetRequestTimeout())
	if err != nil {
		return nil, nil, err
	}

	store := session.NewStore()
	gw, err := gateway.New(httpClient, c.GetBackendURL(), store)
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := oauthflow.New(backend.NewClient(gw), store, nonce.NewStore(c.GetNonceTTL()))
	if err != nil {
		return nil, nil, err
	}

	screen := kiosk.NewScreen(kiosk.RouteIndex)
	gw.UseRefresher(ctrl)
	gw.UseNavigator(screen, c.GetLoginPath(), c.GetCallbackPath())

	view := sessionctx.New(store, ctrl, c.GetLoginPath(), c.GetCallbackPath())
	view.Start(ctx, screen.CurrentPath())

	srv, err := kiosk.New(c, kiosk.Deps{Flow: ctrl, Session: view, Gateway: gw, Screen: screen})
	if err != nil {
		view.Stop()
		return nil, nil, fmt.Errorf("[wire] %w", err)
	}
	return srv, view, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Kiosk listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
