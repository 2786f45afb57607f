package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Check the health of a meshrouter node and the state of its parent link",
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	health, err := client.Health(ctx)
	if health == nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	out := cmd.OutOrStdout()
	if health.Healthy {
		fmt.Fprintf(out, "Node %s is healthy\n", health.NodeID)
	} else {
		fmt.Fprintf(out, "Node %s is not healthy\n", health.NodeID)
	}
	fmt.Fprintf(out, "State: %s\n", health.State)
	if health.Parent != "" {
		fmt.Fprintf(out, "Parent: %s\n", health.Parent)
	}
	fmt.Fprintf(out, "Routes: %d\n", health.Routes)
	fmt.Fprintf(out, "Pending Operations: %d\n", health.PendingOperations)
	fmt.Fprintf(out, "Queued Messages: %d\n", health.QueuedMessages)
	fmt.Fprintf(out, "WebSocket Clients: %d\n", health.WebSocketClients)
	fmt.Fprintf(out, "Multicast Patterns: %d\n", health.MulticastPatterns)
	if health.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", health.Message)
	}
	return err
}
