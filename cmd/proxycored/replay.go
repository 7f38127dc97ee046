package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"proxycore/internal/flow"
	"proxycore/internal/flowlog"
	"proxycore/internal/master"
	"proxycore/internal/playback/client"
	"proxycore/internal/upstream"
)

// perFlowTimeout bounds how long a single replayed flow may take to resolve
// against the live upstream before runReplay gives up rather than spinning
// forever on a flow the client engine can never clear.
const perFlowTimeout = 30 * time.Second

var replayCmd = &cobra.Command{
	Use:   "replay <flowlog>",
	Short: "load a flow log into client playback and drive it to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open flow log: %w", err)
	}
	defer f.Close()

	m := master.New()
	m.Upstream = upstream.New(perFlowTimeout)
	if err := m.LoadFlows(flowlog.NewReader(f)); err != nil {
		return fmt.Errorf("load flow log: %w", err)
	}

	var pending []*flow.Flow
	for _, fl := range m.Store.Snapshot() {
		if fl.Response == nil && fl.Error == nil {
			pending = append(pending, fl)
		}
	}
	m.Client = client.New(pending)

	// Bound the whole drive loop, not just each upstream round trip: a flow
	// that server playback and the live upstream both fail to resolve must
	// not spin this loop forever.
	overall := perFlowTimeout * time.Duration(len(pending)+1)
	ctx, cancel := context.WithTimeout(context.Background(), overall)
	defer cancel()

	for !m.Client.Done() {
		m.Tick(ctx)
		if ctx.Err() != nil {
			return fmt.Errorf("replay timed out waiting on upstream after %s", overall)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "replay complete")
	return nil
}
