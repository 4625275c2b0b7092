package protocol

// Decoding limits. Frames come from a local dev server, but a confused
// peer must not make the client allocate without bound.
const (
	// DefaultMaxAllocation caps a single string or byte slice (4MB).
	DefaultMaxAllocation = 4 * 1024 * 1024

	// MaxPayloadSize caps a frame payload (16MB).
	MaxPayloadSize = 16 * 1024 * 1024

	// MaxCollectionCount caps the element count of any list.
	MaxCollectionCount = 100_000

	// MaxFileIndex caps a file index. Indices are dense, so no index can
	// exceed the longest file list a peer may send.
	MaxFileIndex = MaxCollectionCount
)
