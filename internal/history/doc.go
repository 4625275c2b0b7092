// Package history keeps the dev server's update batches so that clients
// reconnecting after a drop can replay the generations they missed.
//
// A Log is an append-only, generation-ordered sequence of encoded update
// batches on top of a blob backend: memory, a directory on disk, or an S3
// bucket. With a retention limit the oldest batches are discarded; a client
// asking for a discarded generation gets ErrGap and must reload.
package history
