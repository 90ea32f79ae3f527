// Package pebblestore wraps Pebble with a durability policy, atomic batches,
// and minimal metrics hooks. It is the storage primitive the job store builds
// on: every multi-key mutation goes through a single committed batch, so the
// store never exposes partial writes.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
//	b.Close()
package pebblestore
