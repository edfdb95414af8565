// Package api exposes the REST surface for driving ledger state
// transitions. The server doubles as the ordering collaborator: every
// accepted write is assigned a monotonically increasing height before it
// reaches the engine.
package api
