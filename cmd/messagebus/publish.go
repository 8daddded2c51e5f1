package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	messagebusapi "github.com/suoke-life/messagebus/internal/api/grpc/messagebus"
)

type publishOptions struct {
	addr        string
	topic       string
	data        string
	attributes  map[string]string
	publisherID string
	timeout     time.Duration
}

func newPublishCmd() *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one message to a running instance",
		Long: `Publish one message through the PublishMessage RPC.

The payload is taken from --data, or from stdin when --data is "-".

Examples:
  messagebus publish --topic orders --data '{"id":1}'
  echo hi | messagebus publish --topic greetings --data - --attr lang=en`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := []byte(opts.data)
			if opts.data == "-" {
				var err error
				if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if opts.addr == "" {
				opts.addr = defaultClientAddr()
			}

			conn, err := grpc.NewClient(dialAddr(opts.addr), grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", opts.addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runPublish(ctx, messagebusapi.NewMessageBusClient(conn), opts, payload, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "server address (defaults to MESSAGEBUS_GRPC_ADDR)")
	cmd.Flags().StringVar(&opts.topic, "topic", "", "logical topic name")
	cmd.Flags().StringVar(&opts.data, "data", "", `message payload, or "-" for stdin`)
	cmd.Flags().StringToStringVar(&opts.attributes, "attr", nil, "message attribute as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.publisherID, "publisher-id", "", "sent as the x-publisher-id header")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runPublish(ctx context.Context, client messagebusapi.MessageBusServiceClient, opts *publishOptions, payload []byte, out io.Writer) error {
	if opts.publisherID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, messagebusapi.PublisherIDHeader, opts.publisherID)
	}
	resp, err := client.PublishMessage(ctx, &messagebusapi.PublishMessageRequest{
		Topic:      opts.topic,
		Payload:    payload,
		Attributes: opts.attributes,
	})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", opts.topic, err)
	}
	fmt.Fprintf(out, "%s %s\n", resp.MessageID, resp.PublishTime)
	return nil
}
