package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	client "framesync/clients/go"
)

func controlCmd() *cobra.Command {
	var controlAddr string
	cmd := &cobra.Command{
		Use:   "control <message...>",
		Short: "Send an external control message to the master",
		Long:  `Sends a line-delimited control message, e.g. "size 75" or "graph 1"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
			defer cancel()
			c, err := client.New(ctx, controlAddr, nil)
			if err != nil {
				return err
			}
			defer c.Close()
			msg := strings.Join(args, " ")
			if err := c.Send(msg); err != nil {
				return err
			}
			fmt.Printf("sent: %s\n", msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&controlAddr, "control", "localhost:20500", "Master control address")
	return cmd
}
