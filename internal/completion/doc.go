// Package completion tracks which in-flight streaming workflow owns the
// right to declare that workflow finished, and enforces that completion is
// signalled at most once per workflow.
package completion
