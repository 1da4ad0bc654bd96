// Package provider adapts AI model APIs behind uniform streaming interfaces.
//
// Chat streams model output as text deltas and tool calls; Speech synthesizes
// audio chunks. Both receive the workflow's completion token as a query-only
// capability: they consult it to abandon work for finished workflows and are
// forbidden from signalling completion themselves.
//
// Implementations: Gemini (google.golang.org/genai) for live traffic, Script
// for tests and offline mode.
package provider
