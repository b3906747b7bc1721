package logfile

import (
	"strconv"
	"time"
)

// Layout constants of a towl file.
const (
	Magic       = "towlfile*"
	Version     = 1
	RegionSize  = 1024
	HeaderStart = 0
	IndexStart  = HeaderStart + RegionSize
	DataStart   = IndexStart + RegionSize
	// Ext is the file name extension used for log files in a data directory.
	Ext = ".towl"
)

// LogFormat tells readers how to interpret Entry.LogEntry.
type LogFormat int16

const (
	FormatText LogFormat = 0
	// FormatServiceJSON is one structured service log record, e.g. a
	// journald JSON line.
	FormatServiceJSON LogFormat = 1
)

func (f LogFormat) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatServiceJSON:
		return "service-json"
	default:
		return "format-" + strconv.Itoa(int(f))
	}
}

// Entry is one immutable log record.
type Entry struct {
	Sender    string    `json:"sender"`
	Received  time.Time `json:"received"`
	LogFormat LogFormat `json:"log_format"`
	LogEntry  string    `json:"log_entry"`
}

// Header is written once, at file creation.
type Header struct {
	Magic   string
	Version int
	Org     string
	Title   string
	ID      uint64
}

// HeaderFields are the caller supplied parts of a Header.
type HeaderFields struct {
	Org   string
	Title string
	ID    uint64
}

// Index tracks the mutable state of a file. Zero times mean "unset".
type Index struct {
	Opened        time.Time
	Closed        time.Time
	Count         uint64
	FirstReceived time.Time
	LastReceived  time.Time
}

// IsClosed reports whether the file has been sealed.
func (i Index) IsClosed() bool { return !i.Closed.IsZero() }
