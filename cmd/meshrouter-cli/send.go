package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/meshrouter/pkg/httpclient"
)

func newSendCommand() *cobra.Command {
	var req httpclient.SendMessageRequest
	var payload string
	var headers map[string]string

	cmd := &cobra.Command{
		Use:   "send <to> [payload]",
		Short: "Inject a message into the router",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.To = args[0]
			if len(args) == 2 {
				payload = args[1]
			}
			if payload != "" {
				req.Payload = []byte(payload)
			}
			req.Headers = headers
			return runSend(cmd, req)
		},
	}

	cmd.Flags().StringVar(&req.From, "from", "meshrouter-cli", "Sender participant id")
	cmd.Flags().StringVar(&req.Type, "type", "request", "Message type (request, reply, multicast, ...)")
	cmd.Flags().StringVar(&req.ID, "id", "", "Message id (default: random)")
	cmd.Flags().Int64Var(&req.TTLMS, "ttl-ms", 0, "Time to live in milliseconds (default: server default)")
	cmd.Flags().StringVar(&req.ReplyTo, "reply-to", "", "Serialized reply-to address")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Custom header key=value (repeatable)")
	return cmd
}

func runSend(cmd *cobra.Command, req httpclient.SendMessageRequest) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	resp, err := client.SendMessage(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Message %s: %s\n", resp.MessageID, resp.Outcome)
	return nil
}
