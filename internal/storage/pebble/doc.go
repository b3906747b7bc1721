// Package pebblestore is the small Pebble wrapper behind towl's metadata:
// the partition catalog on the server and the sync cursors on the client.
// Log entries themselves live in .towl files, not here.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: filepath.Join(dataDir, "catalog"),
//	    Fsync:   pebblestore.FsyncModeAlways,
//	    Logger:  logger,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Update(ctx, func(b *pebble.Batch) error { return b.Set([]byte("k"), []byte("v"), nil) })
//
//	_ = db.ScanPrefix([]byte("archive/"), func(k, v []byte) error { return nil })
package pebblestore
