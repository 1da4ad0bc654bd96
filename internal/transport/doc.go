// ABOUTME: Package doc for the HTTP transport layer
// ABOUTME: WebSocket and SSE endpoints plus transcript and health routes

// Package transport exposes the streaming API over HTTP. It hosts two
// transports: a WebSocket endpoint where one connection is one workflow, and
// an SSE pair where each POST send starts a workflow whose events stream out
// of the companion GET endpoint.
//
// The transport is where completion ownership begins and ends. Every
// workflow's token is minted here when the client arrives, threaded down
// through the dispatcher, providers, and tools, and signalled exactly once
// from the handler's cleanup path regardless of how the workflow exits.
// Lower layers receive the token but may only read it; an OwnershipError
// surfacing here means one of them signalled anyway.
package transport
