// Package client provides the client side of the `towl` command line.
//
// All commands talk to the towl gRPC service. The address comes from the
// --addr flag, then the TOWL_GRPC environment variable, then 127.0.0.1:50011.
//
// Usage
//
//	towl logs add --sender web-1 "disk almost full"
//	towl logs add --format json '{"MESSAGE":"started","_SYSTEMD_UNIT":"nginx.service"}'
//	towl logs list
//	towl logs get 3 --after 47 --limit 10
//	towl logs get 3 --follow --text
//	towl logs config --max-entries 100000
//	towl logs config --rotation daily
//	towl logs retain 3
//	towl logs status
//
//	# Forward the local journal (reads /etc/towl/daemon.json)
//	towl send
//	# Forward arbitrary lines
//	tail -F /var/log/app.log | towl send --stdin --sender app-1
//
//	# Mirror a remote file; re-running fetches only new entries
//	towl sync 3 --out /srv/mirror/3.jsonl
//
// Notes
//
//   - get prints one JSON object per line unless --text is given. With
//     --follow it ends when the file is sealed or on Ctrl-C.
//   - send forwards every line, repeats included. --dedupe-window N drops a
//     line already sent within the last N lines. send keeps running when a
//     send fails; failures are logged to stderr.
//   - sync stores its cursor in a small pebble database (--state-dir) keyed
//     by server address and file id. The cursor advances only after the line
//     has been written and synced to the mirror.
package client
