// Package waxgo is an embedded, on-device memory store. It persists content
// frames (text or bytes plus optional embeddings and metadata) and exposes
// them through three coordinated access paths: full-text search, vector
// similarity search, and a bitemporal structured-fact ledger.
//
// Everything runs under a single-writer transactional model:
//
//   - At most one read-write session at a time, with two contention
//     policies (block until free, or fail fast with ErrWriterBusy)
//   - One commit makes every subsystem's buffered writes visible together
//   - Readers see the committed state captured when they opened, never a
//     writer's in-flight buffer
//
// # Quick start
//
//	store, err := waxgo.Create("./memory", waxgo.WithDimension(128))
//	if err != nil {
//	    panic(err)
//	}
//	defer store.Close()
//
//	ctx := context.Background()
//	sess, err := store.OpenSession(ctx, waxgo.ReadWriteConfig())
//	if err != nil {
//	    panic(err)
//	}
//	defer sess.Close()
//
//	id, _ := sess.Put([]byte("the espresso machine lives in the kitchen"),
//	    frame.WithKind("note"))
//	_ = sess.IndexText(id, "espresso machine kitchen")
//	_ = sess.Commit(ctx)
//
//	hits, _ := sess.SearchText("espresso", 5)
//
// Durability comes from a CRC-framed commit journal plus periodic
// checkpoints; reopening a store replays every intact committed record and
// discards a torn tail. Embedding payloads are persisted in a
// self-describing binary batch format (package vcodec) that rejects any
// truncated or padded stream before materializing a single vector.
//
// For ingestion and retrieval glue (chunking, embedding, reciprocal-rank
// fusion), see the orchestrator package.
package waxgo
