// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/commguard/commguard/internal/auth"
)

func newResetCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Password reset tokens",
	}

	var email string
	request := &cobra.Command{
		Use:   "request",
		Short: "Issue a reset token and email it to the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.svc.RequestPasswordReset(cmd.Context(), email)
			if err != nil {
				return err
			}
			if token != "" {
				cmd.Println(token)
			}
			cmd.PrintErrln("If the address is registered, a reset email has been sent")
			return nil
		},
	}
	request.Flags().StringVar(&email, "email", "", "account email address")

	var validateToken string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check a reset token and show the account it belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			username, err := a.svc.ValidateResetToken(cmd.Context(), validateToken)
			if err != nil {
				return err
			}
			cmd.Println(username)
			return nil
		},
	}
	validate.Flags().StringVar(&validateToken, "token", "", "reset token")

	var confirmToken string
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Set a new password with a reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := auth.ConfirmResetRequest{Token: confirmToken}
			p := newPrompter(cmd)
			var err error
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

			if err := a.svc.ConfirmPasswordReset(cmd.Context(), req); err != nil {
				return err
			}
			cmd.Println("Password reset")
			return nil
		},
	}
	confirm.Flags().StringVar(&confirmToken, "token", "", "reset token")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired reset tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, deps, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.PurgeExpiredResets(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Purged %d expired reset tokens\n", n)
			return nil
		},
	}

	cmd.AddCommand(request, validate, confirm, purge)
	return cmd
}
