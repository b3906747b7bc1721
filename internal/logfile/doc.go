// Package logfile implements towl's on-disk log file: a fixed header, a
// fixed index and an append-only data region of framed entries.
//
// # Layout
//
//	[0, 1024)     header  magic "towlfile*" | version | org | title | id
//	[1024, 2048)  index   opened | closed | count | first/last received
//	[2048, ...)   entries uvarint(len) | body | crc32c(body)
//
// Bodies are bintly encoded and every region carries a Castagnoli checksum,
// so a damaged header or index is reported as ErrCorruptHeader or
// ErrCorruptIndex instead of being misread.
//
// # Usage
//
//	s, _ := logfile.Create(path, logfile.HeaderFields{Org: "acme", ID: 7})
//	ord, _ := s.Append(logfile.Entry{Sender: "web-1", Received: time.Now(), LogEntry: "hello"})
//	e, _ := s.ReadAt(ord)
//	sub := s.Subscribe() // wakes on each append, Done() on seal
//	_ = s.Close()        // seal
//
// An append writes and syncs the entry before the index is rewritten, so
// index.count never covers bytes that are not durable. Bytes past the last
// counted entry are treated as a torn write and truncated on the first
// append after Open.
package logfile
