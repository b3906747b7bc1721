package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mezeipetister/towl/internal/cmd/client/transports"
	"github.com/spf13/cobra"
)

// NewLogsCommand returns the `logs` command group.
func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "logs", Short: "Log file operations"}
	cmd.PersistentFlags().String("addr", "", "gRPC address (default $TOWL_GRPC or "+DefaultGRPCAddr+")")
	cmd.AddCommand(newLogsAddCommand())
	cmd.AddCommand(newLogsListCommand())
	cmd.AddCommand(newLogsGetCommand())
	cmd.AddCommand(newLogsConfigCommand())
	cmd.AddCommand(newLogsRetainCommand())
	cmd.AddCommand(newLogsStatusCommand())
	return cmd
}

func addrFlag(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("addr")
	return addr
}

func parseFormat(s string) (int32, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return 0, nil
	case "json", "service-json":
		return 1, nil
	default:
		return 0, fmt.Errorf("invalid --format %q; use text|json", s)
	}
}

func newLogsAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [entry]",
		Short: "Append one entry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			format, _ := cmd.Flags().GetString("format")
			entry, _ := cmd.Flags().GetString("entry")
			if len(args) == 1 {
				entry = args[0]
			}
			if entry == "" {
				return fmt.Errorf("entry is required")
			}
			lf, err := parseFormat(format)
			if err != nil {
				return err
			}
			if sender == "" {
				sender, _ = os.Hostname()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				pos, err := t.Add(ctx, transports.AddRequest{Sender: sender, LogFormat: lf, LogEntry: entry})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pos)
			})
		},
	}
	cmd.Flags().String("sender", "", "Sender name (default hostname)")
	cmd.Flags().String("format", "text", "Entry format: text|json")
	cmd.Flags().String("entry", "", "Entry text (or pass it as the argument)")
	return cmd
}

func newLogsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live file ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				ids, err := t.List(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newLogsGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Print entries of a file after a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFileID(args[0])
			if err != nil {
				return err
			}
			after, _ := cmd.Flags().GetString("after")
			follow, _ := cmd.Flags().GetBool("follow")
			limit, _ := cmd.Flags().GetInt("limit")
			text, _ := cmd.Flags().GetBool("text")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				err := t.Get(ctx, transports.GetRequest{FileID: id, AfterCounter: after, Follow: follow, Limit: limit}, func(e transports.Entry) error {
					if text {
						_, err := fmt.Fprintf(out, "%d\t%s\t%s\t%s\n", e.Counter, e.Sender, e.Received.Format(time.RFC3339Nano), e.LogEntry)
						return err
					}
					return printJSON(out, e)
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().String("after", "0", "Entries already held; streaming starts at this counter (0 reads from the first entry)")
	cmd.Flags().Bool("follow", false, "Keep streaming new entries until the file is sealed")
	cmd.Flags().Int("limit", 0, "Stop after this many entries (0 = no limit)")
	cmd.Flags().Bool("text", false, "Print tab separated text instead of JSON lines")
	return cmd
}

func newLogsConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Set the rotation policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			maxEntries, _ := cmd.Flags().GetUint64("max-entries")
			rotation, _ := cmd.Flags().GetString("rotation")
			set := 0
			for _, v := range []bool{payload != "", maxEntries > 0, rotation != ""} {
				if v {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("exactly one of --payload, --max-entries or --rotation is required")
			}
			if payload == "" {
				body := map[string]any{}
				if maxEntries > 0 {
					body["max_entries_per_file"] = maxEntries
				} else {
					body["rotation"] = rotation
				}
				b, err := json.Marshal(body)
				if err != nil {
					return err
				}
				payload = string(b)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				msg, err := t.Config(ctx, payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
	cmd.Flags().String("payload", "", `Raw JSON payload, e.g. {"rotation":"daily"}`)
	cmd.Flags().Uint64("max-entries", 0, "Seal files after this many entries")
	cmd.Flags().String("rotation", "", "Seal files on a calendar boundary: daily|weekly")
	return cmd
}

func newLogsRetainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retain <file-id>",
		Short: "Retire every sealed file below file-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFileID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				res, err := t.Retain(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newLogsStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show partition status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return withTransport(addrFlag(cmd), func(t transports.LogsTransport) error {
				st, err := t.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}
