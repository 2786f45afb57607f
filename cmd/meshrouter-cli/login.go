package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange the admin secret for a token",
		Long:  "Log in to the admin API with --secret and print a token usable with --token",
		RunE:  runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	if secretKey == "" {
		return fmt.Errorf("--secret is required")
	}

	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	resp, err := client.Login(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Logged in as %s\n", resp.Subject)
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
