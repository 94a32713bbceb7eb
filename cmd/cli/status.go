package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"framesync/pkg/diag"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s diag.NodeStatus
			if err := getJSON("/status", &s); err != nil {
				return err
			}
			fmt.Printf("Node:         %s (%s)\n", s.NodeID, s.Role)
			fmt.Printf("Session:      %s\n", s.Session)
			fmt.Printf("Frame:        %d\n", s.Frame)
			fmt.Printf("Barrier:      %s\n", s.Barrier)
			fmt.Printf("Peers:        %d\n", s.Peers)
			fmt.Printf("Missed syncs: %d\n", s.MissedSyncs)
			fmt.Printf("Frame time:   %.3f ms\n", s.Dt*1000)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show frame timing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var s diag.FrameStats
			if err := getJSON("/stats", &s); err != nil {
				return err
			}
			fmt.Printf("dt:           %.3f ms\n", s.Dt*1000)
			fmt.Printf("avg dt:       %.3f ms\n", s.AvgDt*1000)
			fmt.Printf("min dt:       %.3f ms\n", s.MinDt*1000)
			fmt.Printf("max dt:       %.3f ms\n", s.MaxDt*1000)
			fmt.Printf("sync time:    %.3f ms\n", s.SyncTime*1000)
			fmt.Printf("draw time:    %.3f ms\n", s.DrawTime*1000)
			fmt.Printf("sampling:     %.3f ms\n", s.SamplingLatency*1000)
			fmt.Printf("missed syncs: %d\n", s.MissedSyncs)
			return nil
		},
	}
}

func nodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List cluster nodes known to this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nodes []diag.NodeInfo
			if err := getJSON("/nodes", &nodes); err != nil {
				return err
			}
			for _, n := range nodes {
				fmt.Printf("%-16s %-8s %-12s %s\n", n.ID, n.Role, n.State, n.Address)
			}
			return nil
		},
	}
}
