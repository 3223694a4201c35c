package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/app"
	"github.com/MarcoPoloResearchLab/feedsync/internal/auth"
	"github.com/MarcoPoloResearchLab/feedsync/internal/feeds"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sync the account and expose the inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	appConfig, logger, err := loadRuntime(false)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := appConfig.RequireInspection(); err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	session, err := app.New(appConfig, logger)
	if err != nil {
		return err
	}
	defer session.Close() //nolint:errcheck

	handler, err := session.Handler(issuer.Validator())
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return session.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newTimelineCommand() *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "timeline [home|local|hybrid|global|featured|notifications]",
		Short: "Page a feed and print the resolved items as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := feeds.TimelineName(api.TimelineHome)
			if len(args) == 1 {
				resolved, err := feedName(args[0])
				if err != nil {
					return err
				}
				name = resolved
			}
			return runTimeline(cmd.Context(), name, pages)
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load")
	return cmd
}

func feedName(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case feeds.FeaturedName:
		return feeds.FeaturedName, nil
	case feeds.NotificationsName:
		return feeds.NotificationsName, nil
	}
	kind, err := api.ParseTimelineKind(raw)
	if err != nil {
		return "", err
	}
	return feeds.TimelineName(kind), nil
}

func runTimeline(ctx context.Context, name string, pages int) error {
	appConfig, logger, err := loadRuntime(true)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	session, err := app.New(appConfig, logger)
	if err != nil {
		return err
	}
	defer session.Close() //nolint:errcheck

	feed, err := session.Feeds.Get(name)
	if err != nil {
		return err
	}
	for page := 0; page < max(pages, 1); page++ {
		if err := feed.Next(ctx); err != nil {
			return fmt.Errorf("load %s page %d: %w", name, page+1, err)
		}
	}
	return printJSON(feed.Snapshot())
}

func newUsersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "users <id>...",
		Short: "Fetch detailed users and print them as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime(true)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			session, err := app.New(appConfig, logger)
			if err != nil {
				return err
			}
			defer session.Close() //nolint:errcheck

			users, err := session.RefreshUsers(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(users)
		},
	}
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, _, err := loadRuntime(true)
			if err != nil {
				return err
			}
			if err := appConfig.RequireInspection(); err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        auth.DefaultIssuer,
				Audience:      auth.DefaultAudience,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.Issue(cmd.Context(), subject, appConfig.AccountID)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"access_token": token, "expires_in": expiresIn})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject recorded in the token")
	return cmd
}

func printJSON(payload any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
