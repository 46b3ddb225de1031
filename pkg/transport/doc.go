// Package transport defines the byte-stream transports the intent protocol
// runs over. A Transport listens for and dials plain duplex streams; framing
// is left to pkg/stream.
//
// Implementations:
//   - mem: in-process pipes, for tests and embedding
//   - tcp: one TCP connection per stream
//   - quic: one bidirectional QUIC stream per connection
//   - winpipe: Windows named pipes (windows builds only)
package transport
