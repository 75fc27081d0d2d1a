// Package main implements the conductctl CLI for manual operations
// against the conductd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the conductd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conductctl",
	Short: "CLI for conductd control-plane operations",
	Long: `conductctl is a command-line interface for the conductd daemon.
It drives phases, resolves checkpoints, manages the autonomy policy, and
operates the safety interlocks (safe mode and emergency stop).`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9190", "conductd server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(safeModeCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(haltCmd)
}

// client helpers

func request(method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach conductd at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func printJSON(data []byte) error {
	if len(data) == 0 {
		fmt.Println("ok")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

// health

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check conductd server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodGet, "/health", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

// status

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show machine state, autonomy profile, and interlock status",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodGet, "/api/v1/status", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

// profile

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect or switch the autonomy profile",
}

var profileGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the active profile and resolved settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodGet, "/api/v1/policy", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <conservative|balanced|aggressive|full_auto>",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodPut, "/api/v1/policy/profile", map[string]string{"profile": args[0]})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	profileCmd.AddCommand(profileGetCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// override

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage per-setting overrides on top of the profile",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set an override for a single setting",
	Long: `Set an override for a single setting. The value is parsed as JSON
when possible, so booleans and numbers keep their type:

  conductctl override set autonomy-settings.background.concurrency_limit 16
  conductctl override set autonomy-settings.blocking.on_lint_failure true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			value = args[1]
		}
		data, err := request(http.MethodPut, "/api/v1/policy/overrides/"+args[0], map[string]any{"value": value})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var overrideClearCmd = &cobra.Command{
	Use:   "clear <key>",
	Short: "Clear an override, restoring the profile value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodDelete, "/api/v1/policy/overrides/"+args[0], nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	overrideCmd.AddCommand(overrideSetCmd)
	overrideCmd.AddCommand(overrideClearCmd)
}

// emergency stop

var stopReason string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Trigger the emergency stop",
	Long: `Trigger the emergency stop. All mutating work halts immediately
and an incident report is written to the state directory.

Example:
  conductctl stop --reason "agent is deleting the wrong files"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopReason == "" {
			return fmt.Errorf("--reason is required")
		}
		data, err := request(http.MethodPost, "/api/v1/safety/stop", map[string]string{"reason": stopReason})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var resumeApprover string

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume from an emergency stop",
	Long: `Resume from an emergency stop. In-flight work is not replayed;
re-run the phase that was interrupted.

Example:
  conductctl resume --approved-by alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resumeApprover == "" {
			return fmt.Errorf("--approved-by is required")
		}
		data, err := request(http.MethodPost, "/api/v1/safety/resume", map[string]string{"approved_by": resumeApprover})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	stopCmd.Flags().StringVar(&stopReason, "reason", "", "why the stop is being triggered")
	resumeCmd.Flags().StringVar(&resumeApprover, "approved-by", "", "who approved the resume")
}

// safe mode

var safeModeRestrictions []string

var safeModeCmd = &cobra.Command{
	Use:   "safe-mode",
	Short: "Activate or deactivate safe mode",
}

var safeModeOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Activate safe mode (read-only actions only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodPost, "/api/v1/safety/safe-mode", map[string]any{"restrictions": safeModeRestrictions})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var safeModeOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Deactivate safe mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodDelete, "/api/v1/safety/safe-mode", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	safeModeOnCmd.Flags().StringSliceVar(&safeModeRestrictions, "restrict", nil, "restriction names to apply (defaults to the standard set)")
	safeModeCmd.AddCommand(safeModeOnCmd)
	safeModeCmd.AddCommand(safeModeOffCmd)
}

// phases

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Run phases and inspect their outcomes",
}

var phaseRunCmd = &cobra.Command{
	Use:   "run <phase-id>",
	Short: "Start a phase execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodPost, "/api/v1/phases/"+args[0]+"/execute", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

var phaseOutcomeCmd = &cobra.Command{
	Use:   "outcome <phase-id>",
	Short: "Show the last finished outcome for a phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := request(http.MethodGet, "/api/v1/phases/"+args[0]+"/outcome", nil)
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	phaseCmd.AddCommand(phaseRunCmd)
	phaseCmd.AddCommand(phaseOutcomeCmd)
}

// checkpoints

var (
	checkpointBy     string
	checkpointNotes  string
	checkpointReject bool
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Resolve a pending human checkpoint",
}

var checkpointResolveCmd = &cobra.Command{
	Use:   "resolve <phase-id>",
	Short: "Approve or reject the pending checkpoint for a phase",
	Long: `Approve or reject the pending checkpoint for a phase.

Examples:
  conductctl checkpoint resolve planning --by alice
  conductctl checkpoint resolve planning --by bob --reject --notes "scope creep"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkpointBy == "" {
			return fmt.Errorf("--by is required")
		}
		data, err := request(http.MethodPost, "/api/v1/checkpoint/resolve", map[string]any{
			"phase":       args[0],
			"approved":    !checkpointReject,
			"approved_by": checkpointBy,
			"notes":       checkpointNotes,
		})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	checkpointResolveCmd.Flags().StringVar(&checkpointBy, "by", "", "who is resolving the checkpoint")
	checkpointResolveCmd.Flags().StringVar(&checkpointNotes, "notes", "", "optional resolution notes")
	checkpointResolveCmd.Flags().BoolVar(&checkpointReject, "reject", false, "reject instead of approve")
	checkpointCmd.AddCommand(checkpointResolveCmd)
}

// halt

var haltClearedBy string

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Manage the workflow halt super-state",
}

var haltClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a blocking-condition halt",
	RunE: func(cmd *cobra.Command, args []string) error {
		if haltClearedBy == "" {
			return fmt.Errorf("--by is required")
		}
		data, err := request(http.MethodPost, "/api/v1/halt/clear", map[string]string{"cleared_by": haltClearedBy})
		if err != nil {
			return err
		}
		return printJSON(data)
	},
}

func init() {
	haltClearCmd.Flags().StringVar(&haltClearedBy, "by", "", "who cleared the halt")
	haltCmd.AddCommand(haltClearCmd)
}
