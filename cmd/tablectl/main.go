// Command tablectl is the terminal client for Tableside: the customer's menu,
// cart and order tracker, and the owner's live order board.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tableside/api/internal/cart"
	"github.com/tableside/api/internal/client"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/localstore"
	"github.com/tableside/api/internal/logging"
	"github.com/tableside/api/internal/ws"
)

// app holds the services every subcommand shares. It is built once in the
// root command's PersistentPreRunE.
type app struct {
	api    *client.Client
	local  localstore.Storage
	cart   *cart.Cart
	feed   *ws.RemoteFeed
	engine *lifecycle.Engine
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		apiURL   string
		dataDir  string
		logLevel string
	)
	a := &app{}

	cmd := &cobra.Command{
		Use:          "tablectl",
		Short:        "Order from the menu and run the order board from a terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Setup(logLevel, "text")
			logrus.SetOutput(os.Stderr)
			return a.open(apiURL, dataDir)
		},
	}

	home, _ := os.UserHomeDir()
	cmd.PersistentFlags().StringVar(&apiURL, "api", envOr("TABLESIDE_API", "http://localhost:8081"), "API base URL")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", envOr("TABLESIDE_DATA", filepath.Join(home, ".tablectl")), "Directory for the cart, session and last order")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		a.loginCmd(),
		a.signupCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.menuCmd(),
		a.cartCmd(),
		a.checkoutCmd(),
		a.trackCmd(),
		a.historyCmd(),
		a.boardCmd(),
		a.advanceCmd(),
		a.statsCmd(),
	)
	return cmd
}

func (a *app) open(apiURL, dataDir string) error {
	local, err := localstore.OpenFile(filepath.Join(dataDir, "state.json"))
	if err != nil {
		return err
	}
	a.local = local
	a.api = client.New(apiURL, local)
	a.cart = cart.Open(local)

	feed, err := ws.NewRemoteFeed(apiURL, a.api.Token)
	if err != nil {
		return err
	}
	a.feed = feed
	a.engine = lifecycle.NewEngine(a.api, a.api,
		lifecycle.WithFeed(feed),
		lifecycle.WithLocal(local),
	)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
