// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/auth/postgres"
)

const defaultAuditLimit = 20

func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Register accounts and manage sessions",
		Long: `Operator tooling for the account operations. Passwords are read from
the terminal without echo, or one per line from standard input.`,
	}
	cmd.AddCommand(newAccountRegisterCmd(deps))
	cmd.AddCommand(newAccountLoginCmd(deps))
	cmd.AddCommand(newAccountLogoutCmd(deps))
	cmd.AddCommand(newAccountWhoamiCmd(deps))
	cmd.AddCommand(newAccountPasswdCmd(deps))
	cmd.AddCommand(newAccountAuditCmd(deps))
	return cmd
}

func newAccountRegisterCmd(deps *Deps) *cobra.Command {
	var req auth.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd)
			var err error
			if req.Password, err = p.secret("Password"); err != nil {
				return err
			}
			if req.ConfirmPassword, err = p.secret("Confirm password"); err != nil {
				return err
			}

			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.svc.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			cmd.Printf("Registered %s (%s)\n", req.Username, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.FullName, "full-name", "", "full name")
	cmd.Flags().StringVar(&req.Username, "username", "", "username")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&req.Gender, "gender", "", "gender (Male, Female or Other)")
	return cmd
}

func newAccountLoginCmd(deps *Deps) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := newPrompter(cmd).secret("Password")
			if err != nil {
				return err
			}

			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.svc.Login(cmd.Context(), auth.LoginRequest{Login: login, Password: password})
			if err != nil {
				return err
			}
			cmd.Println(result.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "username or email")
	return cmd
}

func newAccountLogoutCmd(deps *Deps) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Logout(cmd.Context(), token); err != nil {
				return err
			}
			cmd.Println("Logged out")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

func newAccountWhoamiCmd(deps *Deps) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the account holding a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.svc.Authenticate(cmd.Context(), token)
			if err != nil {
				return err
			}
			cmd.Printf("Username:  %s\n", acct.Username)
			cmd.Printf("Full name: %s\n", acct.FullName)
			cmd.Printf("Email:     %s\n", acct.Email)
			if acct.LastLogin != nil {
				cmd.Printf("Last login: %s\n", acct.LastLogin.UTC().Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

func newAccountPasswdCmd(deps *Deps) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change a password given the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := auth.ChangePasswordRequest{Username: username}
			p := newPrompter(cmd)
			var err error
			if req.CurrentPassword, err = p.secret("Current password"); err != nil {
				return err
			}
			if req.NewPassword, err = p.secret("New password"); err != nil {
				return err
			}
			if req.ConfirmPassword, err = p.secret("Confirm new password"); err != nil {
				return err
			}

			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.ChangePassword(cmd.Context(), req); err != nil {
				return err
			}
			cmd.Println("Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	return cmd
}

func newAccountAuditCmd(deps *Deps) *cobra.Command {
	var (
		username string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent audit events of an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return oops.Code("AUDIT_USERNAME_REQUIRED").Wrapf(auth.ErrValidation, "--username is required")
			}
			if limit < 1 {
				return oops.Code("AUDIT_INVALID_LIMIT").With("limit", limit).Wrapf(auth.ErrValidation, "--limit must be positive")
			}

			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.pool == nil {
				return oops.Code("CONFIG_INVALID").
					With("field", "database.store").
					Errorf("audit history requires the postgres store")
			}

			acct, err := lookupAccount(cmd.Context(), a.store, username)
			if err != nil {
				return err
			}
			entries, err := postgres.ListByAccount(cmd.Context(), a.pool, acct.ID, limit)
			if err != nil {
				return err
			}
			printAuditEntries(cmd, entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().IntVar(&limit, "limit", defaultAuditLimit, "number of events to show")
	return cmd
}

func lookupAccount(ctx context.Context, store auth.Store, username string) (*auth.Account, error) {
	var acct *auth.Account
	err := store.WithinTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		var err error
		acct, err = repos.Accounts().GetByUsername(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func printAuditEntries(cmd *cobra.Command, entries []postgres.AuditEntry) {
	if len(entries) == 0 {
		cmd.Println("No audit events")
		return
	}
	for _, e := range entries {
		cmd.Printf("%s  %-32s %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.ID)
	}
}
