// Package attendance owns the check-in/check-out state machine and the
// append-only ledger it writes to.
//
// A person's status is never stored. It is derived from the latest ledger
// record: none is Unknown, a check-in is CheckedIn, a check-out is
// CheckedOut. Unknown and CheckedOut both permit a check-in; only
// CheckedIn permits a check-out.
//
// Machine serialises requests per person, so reading the status and
// appending the next record happen as one step. Two scans for the same
// person can never both pass the status check.
package attendance
