package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/loykin/hydration/pkg/client"
	"github.com/spf13/cobra"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (default "+defaultAPIUrl+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an https daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

func newAPIClient(f APIFlags) *client.Client {
	u := f.APIUrl
	if u == "" {
		u = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: u, Timeout: f.APITimeout, CACert: f.CACert, Insecure: f.Insecure})
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// createStatusCommand creates the status subcommand
func createStatusCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry counts, active processes and previews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, f APIFlags) error {
	st, err := newAPIClient(f).Status(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "active %d/%d  queued %d  synced %d  error %d  total %d  uptime %ds\n",
		st.ActiveCount, st.MaxActive, st.QueuedCount, st.SyncedCount, st.ErrorCount, st.TotalCount, st.RuntimeSeconds)
	for _, p := range st.ActiveProcesses {
		_, _ = fmt.Fprintf(w, "  %-12s %-20s computed=%s current=%s\n", shortID(p.ProcessID), p.Name, slot(p.ComputedSlot), slot(p.CurrentSlot))
	}
	return nil
}

// createAddCommand creates the add subcommand
func createAddCommand() *cobra.Command {
	f := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a process for hydration",
		Long: `Queue a process at the tail of the admission queue.

Examples:
  hydration add --process-id=<id> --name=pool
  hydration add --process-id=<id> --base-url=http://node:8734`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	cmd.Flags().StringVar(&f.ProcessID, "process-id", "", "oracle process id (required)")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.BaseURL, "base-url", "", "HyperBEAM base URL override")
	addAPIFlags(cmd, &f.APIFlags)
	if err := cmd.MarkFlagRequired("process-id"); err != nil {
		panic(err)
	}
	return cmd
}

func runAdd(ctx context.Context, w io.Writer, f AddFlags) error {
	err := newAPIClient(f.APIFlags).Add(ctx, client.AddRequest{
		Name:      f.Name,
		ProcessID: f.ProcessID,
		BaseURL:   f.BaseURL,
	})
	if client.IsConflict(err) {
		return fmt.Errorf("process %s is already registered", f.ProcessID)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "queued %s\n", f.ProcessID)
	return nil
}

// createRestartCommand creates the restart subcommand
func createRestartCommand() *cobra.Command {
	f := &ProcessFlags{}
	cmd := &cobra.Command{
		Use:   "restart <process-id>",
		Short: "Reset a process and queue it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ID = args[0]
			return runRestart(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func runRestart(ctx context.Context, w io.Writer, f ProcessFlags) error {
	err := newAPIClient(f.APIFlags).Restart(ctx, f.ID)
	if client.IsNotFound(err) {
		return fmt.Errorf("process %s not found", f.ID)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "restarted %s\n", f.ID)
	return nil
}

// createProcessCommand creates the process subcommand
func createProcessCommand() *cobra.Command {
	f := &ProcessFlags{}
	cmd := &cobra.Command{
		Use:   "process <process-id>",
		Short: "Show one process record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ID = args[0]
			p, err := newAPIClient(f.APIFlags).Process(cmd.Context(), f.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

// createStateCommand creates the state subcommand
func createStateCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Force a save and print the persisted state document",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := newAPIClient(*f).State(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

// createCronsCommand creates the crons subcommand
func createCronsCommand() *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "crons",
		Short: "Print the cron list cached by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := newAPIClient(*f).Crons(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cl)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func slot(v *uint64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
