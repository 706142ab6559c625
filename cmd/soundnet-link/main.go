// soundnet-link runs the Spotify account authorization flow from the
// command line: it opens a loopback callback listener, prints the
// authorization URL, and stores the resulting tokens locally. With
// account credentials it also records the link on the account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/soundnetapp/soundnet-core/internal/app"
	"github.com/soundnetapp/soundnet-core/internal/auth"
	"github.com/soundnetapp/soundnet-core/internal/config"
	"go.uber.org/zap"
)

func main() {
	email := flag.String("email", "", "account email to record the link on (optional)")
	password := flag.String("password", "", "account password")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	infra, err := app.NewInfrastructure(ctx, *cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}

	core, err := app.NewCore(infra, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		infra.Logger().Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, infra, core, cfg, *email, *password); err != nil {
		infra.Logger().Fatal("Authorization failed", zap.Error(err))
	}

	if err := infra.Shutdown(context.Background()); err != nil {
		infra.Logger().Error("Shutdown error", zap.Error(err))
	}
}

func run(ctx context.Context, infra app.Infrastructure, core *app.Core, cfg *config.Config, email, password string) error {
	logger := infra.Logger()

	server := auth.NewCallbackServer(cfg.Spotify.RedirectHost, logger, infra.MetricsHandler(), core.Health.Handler)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}
	defer func() {
		_ = server.Shutdown(context.Background())
	}()

	request, err := core.Flow.BeginAuthorization()
	if err != nil {
		return err
	}

	fmt.Println("Open the following URL in your browser to authorize:")
	fmt.Println()
	fmt.Println("  " + request.URL)
	fmt.Println()

	params, err := server.Wait(ctx)
	if err != nil {
		core.Flow.CancelAuthorization(request)
		return err
	}

	pair, err := core.Flow.CompleteAuthorization(ctx, request, params)
	if err != nil {
		return err
	}

	if email != "" {
		session, err := core.Linker.SignIn(ctx, email, password)
		if err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}
		if err := core.Linker.LinkSpotify(ctx, session.User.ID, pair); err != nil {
			return err
		}
		fmt.Printf("Spotify account linked to %s.\n", session.User.Email)
		return nil
	}

	if err := core.Tokens.Set(ctx, pair); err != nil {
		return err
	}
	fmt.Println("Authorization complete, tokens stored.")
	return nil
}
