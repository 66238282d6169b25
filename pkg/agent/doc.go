// Package agent runs the reasoning cycle for one user turn.
//
// A turn is served from the request cache when possible. Otherwise it is
// classified: conversational messages go straight to RESPOND, everything else
// passes through ANALYZE, PLAN and ACT first. Progress notices are
// interleaved while a slow turn has produced nothing yet, reply fragments are
// forwarded as they are generated, and any failure becomes a single
// user-safe error response.
//
// The package also builds the provider chain (see ProviderFactory) that the
// orchestrator walks.
package agent
