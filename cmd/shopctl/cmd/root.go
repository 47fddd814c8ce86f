// Package cmd implements the shopctl command line client
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/panyam/shopauth/client"
	"github.com/panyam/shopauth/internal/config"
)

type app struct {
	configPath string
	baseURL    string
	storeType  string
	storePath  string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the shopctl command tree
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "shopctl",
		Short: "shopctl talks to a storefront API as an authenticated client",
		Long: `shopctl logs in to a storefront backend, keeps the resulting tokens in a
local credential store and makes authenticated API calls with them.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to the config file (default "+config.DefaultPath()+")")
	flags.StringVar(&a.baseURL, "base-url", "", "Storefront API base URL")
	flags.StringVar(&a.storeType, "store", "", "Credential store: memory, fs, bbolt, redis, sqlite or datastore")
	flags.StringVar(&a.storePath, "store-path", "", "File used by the fs, bbolt and sqlite stores")

	root.AddCommand(
		a.serveCmd(),
		a.loginCmd(),
		a.registerCmd(),
		a.verifyCmd(),
		a.resendCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.tokenCmd(),
		a.getCmd(),
	)
	return root
}

// Execute runs shopctl and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(a.configPath).Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = a.baseURL
	}
	if flags.Changed("store") {
		cfg.Store.Type = a.storeType
		cfg.Store.Path = ""
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = a.storePath
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return nil
}

// withClient opens the configured store, builds a client on it and runs fn.
// The store is closed when fn returns.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) (err error) {
	ctx := cmd.Context()
	store, closer, err := openStore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", a.cfg.Store.Type, err)
	}
	defer func() {
		if cerr := closer(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	opts := []client.ClientOption{
		client.WithTokenEndpoint(a.cfg.TokenEndpoint),
		client.WithClientCredentials(a.cfg.ClientID, a.cfg.ClientSecret),
		client.WithTimeout(a.cfg.Timeout),
		client.WithLogger(a.logger),
		client.WithNotifier(&client.LogNotifier{Logger: a.logger}),
		client.WithExpiryPolicy(client.ExpiryPolicy{Window: a.cfg.RefreshWindow, Threshold: a.cfg.FailureThreshold}),
	}
	if a.cfg.DisablePasswordGrant {
		opts = append(opts, client.WithoutPasswordGrant())
	}
	return fn(ctx, client.New(a.cfg.BaseURL, store, opts...))
}
