// Package dispatch is the single entry point for scans.
//
// Device frames and manually typed ids both go through Dispatcher, which
// normalises the input, resolves it to a person and asks the attendance
// state machine for a transition. The first step that refuses stops the
// pipeline and its refusal becomes the Outcome. Scans are handled one at
// a time, so effects reach the ledger in the order frames arrived.
package dispatch
