// Package reminders is the public service surface for follow-up
// reminders: create, update, cancel, complete, send-now, list, and the
// stats rollups.
//
// Every status change goes through the store's compare-and-swap, so a
// user action racing the dispatcher resolves deterministically: one wins,
// the other re-reads and re-evaluates once before giving up with a
// conflict.
package reminders
