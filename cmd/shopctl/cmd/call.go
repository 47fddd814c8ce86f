package cmd

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/panyam/shopauth/client"
)

var errNotLoggedIn = errors.New("not logged in")

func (a *app) whoamiCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if remote {
					c.Session.Restore(ctx)
					res := c.Gateway.Get(ctx, client.DefaultSessionPaths.Account)
					if !res.Success {
						return resultError(res)
					}
					return printData(cmd.OutOrStdout(), res.Data)
				}

				user, ok := c.Session.Current(ctx)
				if !ok {
					return errNotLoggedIn
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"user":      user,
					"authority": c.Session.Authority(ctx),
				})
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Fetch the profile from the server instead of the local cache")
	return cmd
}

func (a *app) tokenCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show the cached tokens, minting a client token if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if refresh {
					c.Tokens.Refresh(ctx)
				} else {
					c.Tokens.ClientToken(ctx)
				}

				snap := c.Store.Snapshot(ctx)
				out := map[string]any{"authority": c.Session.Authority(ctx)}
				if snap.ClientToken != nil {
					ct := map[string]any{"value": snap.ClientToken.Value}
					if !snap.ClientToken.ExpiresAt.IsZero() {
						ct["expires_at"] = snap.ClientToken.ExpiresAt.Format(time.RFC3339)
					}
					out["client_token"] = ct
				}
				if snap.UserToken != nil {
					out["user_token"] = snap.UserToken.Value
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Exchange a new client token even if the cached one is fresh")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var query map[string]string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path with the current credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				c.Session.Restore(ctx)

				var opts []client.RequestOption
				if len(query) > 0 {
					values := url.Values{}
					for k, v := range query {
						values.Set(k, v)
					}
					opts = append(opts, client.WithQuery(values))
				}
				res := c.Gateway.Get(ctx, args[0], opts...)
				if !res.Success {
					return resultError(res)
				}
				return printData(cmd.OutOrStdout(), res.Data)
			})
		},
	}
	cmd.Flags().StringToStringVarP(&query, "query", "q", nil, "Query parameters as key=value")
	return cmd
}
