package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/minio/highwayhash"
	"github.com/spf13/cobra"

	"github.com/mezeipetister/towl/internal/cmd/client/transports"
	cfgpkg "github.com/mezeipetister/towl/internal/config"
	logpkg "github.com/mezeipetister/towl/pkg/log"
)

// DefaultSendCommand is the source the sender daemon tails when neither
// --stdin nor --command is given.
const DefaultSendCommand = "journalctl -f -o json --since now"

// maxLine bounds one input line; journald JSON records can be large.
const maxLine = 4 << 20

// dedupe suppresses lines seen within the last size lines. Lines are keyed
// by their HighwayHash-64 under a per-process random key. It is off unless
// --dedupe-window is set, since repeated lines are usually real log data.
type dedupe struct {
	key  []byte
	ring []uint64
	pos  int
	full bool
	seen map[uint64]int
}

func newDedupe(size int) (*dedupe, error) {
	if size <= 0 {
		return nil, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &dedupe{key: key, ring: make([]uint64, size), seen: make(map[uint64]int, size)}, nil
}

// Seen records line and reports whether it is already in the window.
func (d *dedupe) Seen(line []byte) bool {
	if d == nil {
		return false
	}
	h := highwayhash.Sum64(line, d.key)
	if d.seen[h] > 0 {
		return true
	}
	if d.full {
		old := d.ring[d.pos]
		if d.seen[old]--; d.seen[old] <= 0 {
			delete(d.seen, old)
		}
	}
	d.ring[d.pos] = h
	d.seen[h]++
	d.pos++
	if d.pos == len(d.ring) {
		d.pos, d.full = 0, true
	}
	return false
}

type pumpOptions struct {
	Sender    string
	LogFormat int32
	Window    int
	Logger    logpkg.Logger
}

type pumpStats struct {
	Sent    int
	Skipped int
	Failed  int
}

// pump sends every non-empty line of r as one entry until r ends or ctx is
// done. Failed sends are logged and counted; the daemon keeps reading.
func pump(ctx context.Context, r io.Reader, t transports.LogsTransport, opts pumpOptions) (pumpStats, error) {
	var st pumpStats
	d, err := newDedupe(opts.Window)
	if err != nil {
		return st, err
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			return st, nil
		}
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if d.Seen(line) {
			st.Skipped++
			continue
		}
		if _, err := t.Add(ctx, transports.AddRequest{Sender: opts.Sender, LogFormat: opts.LogFormat, LogEntry: string(line)}); err != nil {
			if ctx.Err() != nil {
				return st, nil
			}
			st.Failed++
			opts.Logger.Warn("send failed", logpkg.Err(err))
			continue
		}
		st.Sent++
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return st, err
	}
	return st, nil
}

// loadSenderConfig reads path; a missing file is only an error when the
// caller named it explicitly.
func loadSenderConfig(path string, explicit bool) (cfgpkg.SenderConfig, error) {
	sc, err := cfgpkg.LoadSender(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfgpkg.SenderConfig{}, nil
		}
		return cfgpkg.SenderConfig{}, err
	}
	return sc, nil
}

// NewSendCommand returns the sender daemon: it forwards lines from stdin or a
// child command (journalctl by default) to a towl server.
func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Forward log lines from stdin or a command to a towl server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			sender, _ := cmd.Flags().GetString("sender")
			format, _ := cmd.Flags().GetString("format")
			useStdin, _ := cmd.Flags().GetBool("stdin")
			command, _ := cmd.Flags().GetString("command")
			window, _ := cmd.Flags().GetInt("dedupe-window")

			logger := logpkg.NewLogger(
				logpkg.WithLevel(logpkg.InfoLevel),
				logpkg.WithFormatter(&logpkg.TextFormatter{}),
				logpkg.WithOutput(logpkg.NewWriterOutput(cmd.ErrOrStderr())),
			).WithComponent("send")

			sc, err := loadSenderConfig(cfgPath, cmd.Flags().Changed("config"))
			if err != nil {
				return fmt.Errorf("sender config: %w", err)
			}
			if addr == "" {
				addr = sc.Target()
			}
			if sender == "" {
				sender = sc.SenderName
			}
			if sender == "" {
				sender, _ = os.Hostname()
			}
			if format == "" {
				format = "text"
				if !useStdin && command == DefaultSendCommand {
					format = "json"
				}
			}
			lf, err := parseFormat(format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				src   io.Reader = cmd.InOrStdin()
				child *exec.Cmd
			)
			if !useStdin {
				argv := strings.Fields(command)
				if len(argv) == 0 {
					return fmt.Errorf("--command is empty")
				}
				child = exec.CommandContext(ctx, argv[0], argv[1:]...)
				child.Stderr = cmd.ErrOrStderr()
				out, err := child.StdoutPipe()
				if err != nil {
					return err
				}
				if err := child.Start(); err != nil {
					return fmt.Errorf("start %s: %w", argv[0], err)
				}
				src = out
			}

			logger.Info("sender started", logpkg.Str("sender", sender), logpkg.Str("format", format), logpkg.Str("addr", addr))
			t := newTransport(addr)
			defer func() { _ = t.Close() }()
			st, err := pump(ctx, src, t, pumpOptions{Sender: sender, LogFormat: lf, Window: window, Logger: logger})
			if child != nil {
				if werr := child.Wait(); werr != nil && ctx.Err() == nil && err == nil {
					err = fmt.Errorf("%s exited: %w", child.Path, werr)
				}
			}
			logger.Info("sender stopped", logpkg.Int("sent", st.Sent), logpkg.Int("skipped", st.Skipped), logpkg.Int("failed", st.Failed))
			return err
		},
	}
	cmd.Flags().String("config", cfgpkg.DefaultSenderConfigPath, "Sender config file (JSON or YAML)")
	cmd.Flags().String("addr", "", "gRPC address (default from config, then $TOWL_GRPC)")
	cmd.Flags().String("sender", "", "Sender name (default from config, then hostname)")
	cmd.Flags().String("format", "", "Entry format: text|json (default json for journalctl, else text)")
	cmd.Flags().Bool("stdin", false, "Read lines from stdin instead of running --command")
	cmd.Flags().String("command", DefaultSendCommand, "Command whose stdout is forwarded")
	cmd.Flags().Int("dedupe-window", 0, "Drop a line repeated within this many lines (0 keeps every line)")
	return cmd
}
