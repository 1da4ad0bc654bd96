// Package tools provides the tool registry and execution for workflows.
//
// Tools run as sub-workflows: the runner receives the workflow's completion
// token and forwards it to handlers, which may query it but never signal it.
// Built-in tools cover time lookup, text echo, and transcript recall.
package tools
