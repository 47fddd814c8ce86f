package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/panyam/shopauth"
	"github.com/panyam/shopauth/client"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long:  "Log in with email and password. The password is read from stdin when --password is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), password)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return a.printOutcome(cmd, c.Session.Login(ctx, email, pw))
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) registerCmd() *cobra.Command {
	var reg shopauth.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd.InOrStdin(), reg.Password)
			if err != nil {
				return err
			}
			reg.Password = pw
			if reg.PasswordConfirmation == "" {
				reg.PasswordConfirmation = pw
			}
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return a.printOutcome(cmd, c.Session.Register(ctx, reg))
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&reg.Name, "name", "n", "", "Full name")
	flags.StringVarP(&reg.Email, "email", "e", "", "Account email")
	flags.StringVar(&reg.Phone, "phone", "", "Phone number")
	flags.StringVarP(&reg.Password, "password", "p", "", "Account password")
	flags.StringVar(&reg.PasswordConfirmation, "password-confirmation", "", "Password confirmation (defaults to the password)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm a one-time code and log in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				return a.printOutcome(cmd, c.Session.VerifyOTP(ctx, email, code))
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.Flags().StringVarP(&code, "code", "c", "", "One-time code")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) resendCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "resend-otp",
		Short: "Ask for a new one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				res := c.Session.ResendOTP(ctx, email)
				if !res.Success {
					return resultError(res)
				}
				cmd.Println(res.Message)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email")
	cmd.MarkFlagRequired("email")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				c.Session.Logout(ctx)
				cmd.Println("Logged out")
				return nil
			})
		},
	}
}

func (a *app) printOutcome(cmd *cobra.Command, res *shopauth.Result) error {
	if !res.Success {
		return resultError(res)
	}
	var out client.AuthOutcome
	if err := res.Decode(&out); err != nil {
		return err
	}
	if out.RequiresOTP {
		a.logger.Info("verification required, run shopctl verify with the emailed code")
	}
	return printJSON(cmd.OutOrStdout(), out)
}
