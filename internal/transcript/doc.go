// Package transcript provides fan-out broadcasting of persisted transcript
// events so watchers can follow a live session without polling the store.
package transcript
