package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mezeipetister/towl/internal/cmd/client/transports"
	pebblestore "github.com/mezeipetister/towl/internal/storage/pebble"
)

// cursorStore remembers, per remote file, how many entries the local mirror
// holds. That count is the after counter of the next pull.
type cursorStore struct {
	db *pebblestore.DB
}

func openCursorStore(dir string) (*cursorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return &cursorStore{db: db}, nil
}

func cursorKey(remote string, fileID uint64) []byte {
	return []byte("cursor/" + remote + "/" + strconv.FormatUint(fileID, 10))
}

// Load returns the number of entries already mirrored, 0 when none.
func (c *cursorStore) Load(remote string, fileID uint64) (uint64, error) {
	v, err := c.db.Get(cursorKey(remote, fileID))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(v), 10, 64)
}

func (c *cursorStore) Save(remote string, fileID, counter uint64) error {
	return c.db.Set(cursorKey(remote, fileID), []byte(strconv.FormatUint(counter, 10)))
}

func (c *cursorStore) Close() error { return c.db.Close() }

// syncFile appends every entry of fileID the mirror does not hold yet to out
// as JSON lines and advances the cursor after each written line. It returns the
// number of entries written.
func syncFile(ctx context.Context, t transports.LogsTransport, cur *cursorStore, remote string, fileID uint64, out *os.File, follow bool) (int, error) {
	after, err := cur.Load(remote, fileID)
	if err != nil {
		return 0, err
	}
	n := 0
	err = t.Get(ctx, transports.GetRequest{FileID: fileID, AfterCounter: strconv.FormatUint(after, 10), Follow: follow}, func(e transports.Entry) error {
		if err := printJSON(out, e); err != nil {
			return err
		}
		if err := out.Sync(); err != nil {
			return err
		}
		n++
		return cur.Save(remote, fileID, e.Counter+1)
	})
	return n, err
}

// NewSyncCommand returns `sync`, which mirrors a remote file into a local
// JSON lines file and resumes where the previous run stopped.
func NewSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <file-id>",
		Short: "Pull a remote file into a local JSON lines mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFileID(args[0])
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			outPath, _ := cmd.Flags().GetString("out")
			stateDir, _ := cmd.Flags().GetString("state-dir")
			follow, _ := cmd.Flags().GetBool("follow")
			if addr == "" {
				addr = grpcAddrFromEnv()
			}
			if outPath == "" {
				outPath = fmt.Sprintf("towl-%d.jsonl", id)
			}
			if stateDir == "" {
				stateDir = filepath.Join(filepath.Dir(outPath), ".towl-sync")
			}

			cur, err := openCursorStore(stateDir)
			if err != nil {
				return err
			}
			defer cur.Close()
			out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer out.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withTransport(addr, func(t transports.LogsTransport) error {
				n, err := syncFile(ctx, t, cur, addr, id, out, follow)
				if ctx.Err() != nil {
					err = nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "synced %d entries of file %d into %s\n", n, id, outPath)
				return err
			})
		},
	}
	cmd.Flags().String("addr", "", "gRPC address (default $TOWL_GRPC or "+DefaultGRPCAddr+")")
	cmd.Flags().String("out", "", "Mirror file (default towl-<file-id>.jsonl)")
	cmd.Flags().String("state-dir", "", "Cursor store directory (default .towl-sync next to --out)")
	cmd.Flags().Bool("follow", false, "Keep pulling until the file is sealed")
	return cmd
}
