package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	accounts "github.com/lungvision/go-accounts"
	"github.com/lungvision/go-accounts/inference"
	"github.com/spf13/cobra"
)

func newServeCommand(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				app.config.Server.Addr = addr
			}
			return runServe(cmd.Context(), app)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")

	return cmd
}

func runServe(parent context.Context, app *App) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg := app.Config()
	logger := app.GetLogger("serve")

	if cfg.Server.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(cfg))
		fmt.Println("============")
	}

	if err := app.WithPersistence(ctx); err != nil {
		return err
	}

	notifier, err := app.Notifier(ctx, true)
	if err != nil {
		return err
	}

	denylist, err := app.Denylist(ctx)
	if err != nil {
		return err
	}

	svc, err := app.Services(notifier, denylist)
	if err != nil {
		return err
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "LungVision",
			UnescapePath:      true,
			EnablePrintRoutes: cfg.Server.Debug,
			StrictRouting:     false,
			BodyLimit:         32 * 1024 * 1024,
		}))
	})

	srv.Router().WithLogger(app.logger.GetLogger("router"))

	api := srv.Router().Group("/")

	protected := accounts.ProtectedRoute(svc.Tokens, "", accounts.WriteError)

	controllerOpts := []accounts.AccountControllerOption{
		accounts.WithControllerLogger(app.GetLogger("http:accounts")),
		accounts.WithControllerDebug(cfg.Server.Debug),
		accounts.WithControllerRegistration(svc.Registration),
		accounts.WithControllerAuthenticator(svc.Auther),
	}

	if cfg.Inference.BaseURL != "" {
		predictor, err := inference.New(inference.Options{
			BaseURL: cfg.Inference.BaseURL,
			Timeout: cfg.Inference.Timeout.Duration,
		})
		if err != nil {
			return err
		}
		controllerOpts = append(controllerOpts, accounts.WithControllerPredictor(predictor))
	}

	accounts.RegisterAccountRoutes(api, protected, controllerOpts...)
	accounts.RegisterAdminRoutes(api, protected, svc.Console, svc.Auther,
		accounts.WithAdminLogger(app.GetLogger("http:admin")),
	)

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		srv.Serve(cfg.Server.Addr)
	}()

	sig := WaitExitSignal()
	logger.Info("shutting down", "signal", sig.String())
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	return srv.Shutdown(shutdownCtx)
}
