// Package ledger implements the deterministic state-transition core of
// SecureChain: participant registration and reputation, shipment admission
// gated by a risk score, an append-only custody chain per shipment, and a
// fraud-alert log. Every public operation takes the caller identity and a
// monotonic logical height supplied by the host, reads and mutates state
// through a transactional Store, and either fully commits or fully fails.
package ledger
