// Package session owns per-session bookkeeping for the glove link.
//
// Ownership boundary:
//   - correlation tokens and the pending-request table
//   - poll interval policy (fast/slow ticking while the server is unreachable)
//   - timeouts shared by transport and link
package session
