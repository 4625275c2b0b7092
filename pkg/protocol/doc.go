// Package protocol implements the binary wire protocol between the hot
// module dev server and a runtime client.
//
// Every message travels in one frame over a WebSocket binary message:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHello (0x01): client → server, protocol version, config key and
//     last applied generation
//   - FrameWelcome (0x02): server → client, handshake status and config
//   - FrameUpdate (0x03): server → client, one update generation
//   - FrameReload (0x04): server → client, full reload instruction
//   - FrameConsole (0x05): console calls, both directions
//   - FrameError (0x06): load, update and protocol errors
//
// # Module records
//
// Update frames carry module records rather than code. A record names the
// body by catalog symbol; the client resolves it against the functions
// compiled into the program. Dependency lists keep the compiler's
// back-reference encoding on the wire.
//
// # Encoding
//
//   - Varint: compact unsigned integers (protobuf-style)
//   - ZigZag: signed integers as unsigned varints
//   - Strings and byte slices: varint length prefix
//   - Collections: varint count, bounded by MaxCollectionCount
package protocol
