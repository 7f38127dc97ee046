package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proxycore/internal/flow"
)

var scriptCmd = &cobra.Command{
	Use:   "script <flowfile> <script>",
	Short: "run the script transform against a single serialized flow",
	Args:  cobra.ExactArgs(2),
	RunE:  runScript,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
}

func runScript(cmd *cobra.Command, args []string) error {
	flowPath, scriptPath := args[0], args[1]

	data, err := os.ReadFile(flowPath)
	if err != nil {
		return fmt.Errorf("read flow file: %w", err)
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse flow file: %w", err)
	}

	f := &flow.Flow{}
	f.Restore(snapshot)

	stderr, err := f.RunScript(scriptPath)
	if len(stderr) > 0 {
		fmt.Fprint(cmd.ErrOrStderr(), string(stderr))
	}
	if err != nil {
		return fmt.Errorf("run script: %w", err)
	}

	out, err := json.MarshalIndent(f.Snapshot(true), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal resulting flow: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
