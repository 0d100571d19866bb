// Package debugger implements the pause/step/resume state machine consulted
// by the agent at every keyword boundary.
//
// The request state lives in a shared state.Store under state.KeyDebuggerState
// so that a controller running on another goroutine (the control server) or in
// another process (file and SQLite stores) can change it. The execution thread
// reads it at keyword boundaries; the only place it blocks is OnKeywordStart
// while the state is "pause". A blocked call wakes on the first of:
//
//   - a local mutation (Resume, StepNext, StepOver),
//   - a change notification from the store, when it implements state.Watcher,
//   - the poll interval elapsing,
//   - its context being cancelled.
//
// Stepping follows the keyword call stack. StepNext lets exactly one keyword
// boundary pass and pauses again at the next one, whatever its depth.
// StepOver records the current depth and runs until a keyword ends back at
// that depth.
package debugger
