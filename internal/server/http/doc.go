// Package httpserver serves the collector over HTTP/JSON: adding entries
// (including the legacy /set_log endpoint), listing files, reading or live
// tailing a file as Server-Sent Events, policy changes, retention, status and
// health.
package httpserver
