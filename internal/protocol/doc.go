// Package protocol owns the glove server payload contract.
//
// Ownership boundary:
//   - 12-byte payload header (kind, correlation token, session id)
//   - request encoders used by the client and event decoders for server replies
//   - server-side event encoders and request decoding, used by the emulator
//   - filter descriptors (gesture, mesh mapping) carried inside add-filter requests
//
// Length-prefix framing lives in protocol/frame; packet kinds and minimum body
// sizes live in protocol/schema.
package protocol
