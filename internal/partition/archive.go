package partition

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/viant/afs"
	afsfile "github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/mezeipetister/towl/internal/logfile"
)

// RetentionMode selects what happens to a file below the retention boundary.
type RetentionMode string

const (
	RetentionDelete  RetentionMode = "delete"
	RetentionArchive RetentionMode = "archive"
)

// Archiver copies a sealed file somewhere durable and returns its URL.
type Archiver interface {
	Archive(ctx context.Context, path string, h logfile.Header, idx logfile.Index) (string, error)
}

// AFSArchiver uploads files below BaseURL using viant/afs, so any scheme afs
// understands (local paths, file://, mem://, cloud storage with the matching
// connector registered) can be used as an archive.
type AFSArchiver struct {
	BaseURL string
	fs      afs.Service
}

// NewAFSArchiver returns an archiver writing below baseURL.
func NewAFSArchiver(baseURL string) *AFSArchiver {
	return &AFSArchiver{BaseURL: baseURL, fs: afs.New()}
}

// Archive implements Archiver.
func (a *AFSArchiver) Archive(ctx context.Context, path string, h logfile.Header, idx logfile.Index) (string, error) {
	target := url.Join(a.BaseURL, ArchiveName(h, idx))
	if exists, _ := a.fs.Exists(ctx, target); exists {
		return "", fmt.Errorf("archive target %s already exists", target)
	}
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	if err := a.fs.Upload(ctx, target, afsfile.DefaultFileOsMode, src); err != nil {
		_ = a.fs.Delete(ctx, target)
		return "", fmt.Errorf("upload %s: %w", target, err)
	}
	return target, nil
}

// ArchiveName renders {org}_{title}_{yyyy_m_d}_{id}.towl using the day the
// file was opened (UTC).
func ArchiveName(h logfile.Header, idx logfile.Index) string {
	d := idx.Opened.UTC()
	return fmt.Sprintf("%s_%s_%d_%d_%d_%d%s", sanitize(h.Org), sanitize(h.Title), d.Year(), int(d.Month()), d.Day(), h.ID, logfile.Ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ' ' || r == ':':
			return '-'
		case r < 0x20:
			return -1
		}
		return r
	}, s)
}
