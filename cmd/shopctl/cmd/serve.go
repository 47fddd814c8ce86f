package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/panyam/shopauth/devserver"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr             string
		grpcAddr         string
		passwordGrant    bool
		loginIssuesToken bool
		requireOTP       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development storefront backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Server
			flags := cmd.Flags()
			if flags.Changed("addr") {
				sc.Addr = addr
			}
			if flags.Changed("grpc-addr") {
				sc.GRPCAddr = grpcAddr
			}
			if flags.Changed("password-grant") {
				sc.PasswordGrant = passwordGrant
			}
			if flags.Changed("login-issues-token") {
				sc.LoginIssuesToken = loginIssuesToken
			}
			if flags.Changed("require-otp") {
				sc.RequireOTP = requireOTP
			}

			srv := devserver.New(devserver.Config{
				ClientID:         a.cfg.ClientID,
				ClientSecret:     a.cfg.ClientSecret,
				JWTSecretKey:     sc.JWTSecretKey,
				PasswordGrant:    sc.PasswordGrant,
				LoginIssuesToken: sc.LoginIssuesToken,
				RequireOTP:       sc.RequireOTP,
			})
			srv.Logger = a.logger
			return runServer(cmd.Context(), srv, sc.Addr, sc.GRPCAddr, a)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&addr, "addr", "a", ":8080", "HTTP listen address")
	flags.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (disabled when empty)")
	flags.BoolVar(&passwordGrant, "password-grant", false, "Enable grant_type=password on the token endpoint")
	flags.BoolVar(&loginIssuesToken, "login-issues-token", false, "Return a user token from /login")
	flags.BoolVar(&requireOTP, "require-otp", false, "Require OTP verification after registration")
	return cmd
}

func runServer(ctx context.Context, srv *devserver.Server, addr, grpcAddr string, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("http server failed: %w", err)
			return
		}
		done <- nil
	}()
	a.logger.Info("serving HTTP", "addr", addr)

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
		grpcServer := srv.GRPCServer()
		defer grpcServer.GracefulStop()
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				done <- fmt.Errorf("grpc server failed: %w", err)
			}
		}()
		a.logger.Info("serving gRPC", "addr", grpcAddr)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}
