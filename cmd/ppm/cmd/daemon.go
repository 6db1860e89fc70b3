package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"ppm/src/config"
	"ppm/src/daemon"
)

var daemonDetach bool

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the draft editing daemon",
	Long: `The daemon keeps one draft session in memory and serves JSON-RPC 2.0 on a
unix socket, so an editor integration can stage changes, see live
composition and token counts, and commit or discard the draft.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if running, pid := daemon.IsRunning(settings.Daemon.PIDFile); running {
			return fmt.Errorf("daemon is already running (PID: %d)", pid)
		}
		if err := config.EnsureConfigDirs(); err != nil {
			return err
		}

		if daemonDetach {
			return detach()
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Starting ppm daemon...")
		return daemon.Run(cfgFile, settings, logger, daemon.WithLogLevel(logLevel))
	},
}

// detach re-runs "daemon start" in a new session without a terminal.
func detach() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"daemon", "start"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	child := exec.Command(exe, args...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	fmt.Printf("Daemon started in background (PID: %d)\n", child.Process.Pid)
	return child.Process.Release()
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, pid := daemon.IsRunning(settings.Daemon.PIDFile)
		if !running {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Stopping daemon (PID: %d)...\n", pid)
		if err := daemon.Stop(pid, settings.Daemon.PIDFile, logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped successfully")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		running, pid := daemon.IsRunning(settings.Daemon.PIDFile)
		if !running {
			fmt.Fprintln(w, "Daemon is not running")
			return nil
		}

		var status daemon.StatusResult
		client := daemon.NewClient(settings.Daemon.Socket)
		if err := client.Call(cmd.Context(), "status.get", nil, &status); err != nil {
			fmt.Fprintf(w, "Daemon is running (PID: %d) but not answering: %v\n", pid, err)
			return nil
		}

		fmt.Fprintf(w, "Daemon is running (PID: %d, up %s)\n", status.PID, status.Uptime)
		fmt.Fprintf(w, "  Socket:   %s\n", status.Socket)
		fmt.Fprintf(w, "  Database: %s\n", status.Database)
		fmt.Fprintf(w, "  Model:    %s\n", status.DefaultModel)
		if status.DraftPersona != "" {
			fmt.Fprintf(w, "  Draft:    %s (%d pending)\n", status.DraftPersona, status.Pending)
		}
		if len(status.Calls) > 0 {
			methods := make([]string, 0, len(status.Calls))
			for m := range status.Calls {
				methods = append(methods, m)
			}
			sort.Strings(methods)
			fmt.Fprintln(w, "  Calls:")
			for _, m := range methods {
				fmt.Fprintf(w, "    %s: %d\n", m, status.Calls[m])
			}
		}
		return nil
	},
}

var rpcCmd = &cobra.Command{
	Use:   "rpc <method> [params-json]",
	Short: "Call a daemon JSON-RPC method",
	Long: `Send one JSON-RPC call to the running daemon and print the result.

Examples:
  ppm rpc draft.start '{"persona":"Aria"}'
  ppm rpc draft.stage_batch_create '{"persona_id":"...","granularity_id":"face","polarity":"positive","contents":"green eyes"}'
  ppm rpc draft.commit '{"persona_id":"..."}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params json.RawMessage
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("params are not valid JSON")
			}
			params = json.RawMessage(args[1])
		}

		var result json.RawMessage
		client := daemon.NewClient(settings.Daemon.Socket)
		if err := client.Call(cmd.Context(), args[0], params, &result); err != nil {
			return err
		}

		var pretty interface{}
		if err := json.Unmarshal(result, &pretty); err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(rpcCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)

	daemonStartCmd.Flags().BoolVarP(&daemonDetach, "detach", "d", false, "Run in the background")
}
