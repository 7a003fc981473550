// Package procutil prepares child processes (git, ripgrep) for the engine.
// Children are bound to a context and killed together with anything they
// spawned. On Windows no console window is shown.
package procutil
