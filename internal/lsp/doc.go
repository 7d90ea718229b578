// Package lsp implements the server side of the Language Server Protocol
// needed by the spell checker.
//
// # Components
//
//   - Conn: JSON-RPC 2.0 over a byte stream with Content-Length framing.
//     Incoming messages are dispatched to a Handler one at a time.
//   - DocumentStore: the text of open documents, kept current by applying
//     full and incremental content changes.
//   - PositionConverter: byte offsets to LSP positions (UTF-16 columns) and back.
//
// Only the protocol types the server reads or writes are modelled.
package lsp
