// Package script runs the external-process flow transform: a flow snapshot
// is written to a child process's standard input, and a mutated snapshot is
// read back from its standard output (spec.md §4.1 run_script, §6).
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"proxycore/internal/logging"
)

var log = logging.New("script")

// ScriptError reports a failed transform: a nonzero exit status, or output
// that could not be parsed as a flow snapshot.
type ScriptError struct {
	ExitCode int
	Stderr   []byte
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script transform failed (exit %d): %s", e.ExitCode, e.Stderr)
}

// Run spawns path with the calling process's working directory inherited,
// writes input as a JSON snapshot to its stdin, reads the mutated snapshot
// from stdout, and returns the captured stderr bytes alongside it.
//
// A nonzero exit status or unparseable stdout is reported as a *ScriptError
// carrying the exit code and the captured stderr.
func Run(path string, input map[string]interface{}) (map[string]interface{}, []byte, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal script input: %w", err)
	}

	cmd := exec.Command(path)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			log.WithError(runErr).Error("script transform could not be started")
			return nil, stderr.Bytes(), &ScriptError{ExitCode: -1, Stderr: stderr.Bytes()}
		}
	}

	if exitCode != 0 {
		log.WithField("path", path).WithField("exit_code", exitCode).Warn("script transform exited nonzero")
		return nil, stderr.Bytes(), &ScriptError{ExitCode: exitCode, Stderr: stderr.Bytes()}
	}

	var output map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		log.WithError(err).Warn("script transform produced unparseable output")
		return nil, stderr.Bytes(), &ScriptError{ExitCode: 0, Stderr: stderr.Bytes()}
	}

	return output, stderr.Bytes(), nil
}
