package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMulticastCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multicast",
		Short: "Inspect multicast receivers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List multicast ids and their receivers",
		Args:  cobra.NoArgs,
		RunE:  runMulticastList,
	})
	return cmd
}

func runMulticastList(cmd *cobra.Command, args []string) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	patterns, err := client.ListMulticast(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(patterns) == 0 {
		fmt.Fprintln(out, "No multicast receivers")
		return nil
	}
	for _, p := range patterns {
		fmt.Fprintf(out, "%s: %s\n", p.MulticastID, strings.Join(p.Receivers, ", "))
	}
	return nil
}
