// ABOUTME: Package doc for the workflow dispatcher
// ABOUTME: Chat → tools → speech pipeline behind each streaming session

// Package workflow drives one streaming interaction per session: it consumes
// the chat provider's event stream, executes requested tool sub-workflows,
// optionally synthesizes speech for the final reply, and emits a single
// ordered event sequence into the session channel while mirroring it to the
// store and the transcript broadcaster.
//
// The dispatcher is a pass-through in the completion-ownership chain. It
// forwards the session's token to providers and tools so they can check
// whether the workflow still matters, but it never signals completion; the
// transport handler that created the session owns that.
package workflow
