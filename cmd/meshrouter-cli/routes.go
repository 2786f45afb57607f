package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage the routing table",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all routes",
		Args:  cobra.NoArgs,
		RunE:  runRoutesList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <participant-id>",
		Short: "Show the next hop of a participant",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoutesGet,
	})

	var global bool
	addCmd := &cobra.Command{
		Use:   "add <participant-id> <address>",
		Short: "Add or replace the next hop of a participant",
		Long: `Add or replace the next hop of a participant. The address may be a URL
(ws://host:port/path), a prefixed form (wsclient:<id>, inprocess:<name>,
browser:<window>, channel:<url>#<id>) or the JSON form.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoutesAdd(cmd, args, global)
		},
	}
	addCmd.Flags().BoolVar(&global, "global", false, "Register the participant as globally visible at the parent")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <participant-id>",
		Aliases: []string{"rm"},
		Short:   "Remove the next hop of a participant",
		Args:    cobra.ExactArgs(1),
		RunE:    runRoutesRemove,
	})
	return cmd
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	routes, err := client.ListRoutes(ctx)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No routes")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tKIND\tADDRESS")
	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ParticipantID, r.Kind, r.Address)
	}
	return w.Flush()
}

func runRoutesGet(cmd *cobra.Command, args []string) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	route, err := client.GetRoute(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", route.ParticipantID, route.Address, route.Kind)
	return nil
}

func runRoutesAdd(cmd *cobra.Command, args []string, global bool) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	route, err := client.AddRoute(ctx, args[0], args[1], global)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s -> %s\n", route.ParticipantID, route.Address)
	return nil
}

func runRoutesRemove(cmd *cobra.Command, args []string) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	if err := client.RemoveRoute(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}
