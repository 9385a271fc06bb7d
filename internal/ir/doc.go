// Package ir provides the shared record types for dispatchr.
//
// This package contains type definitions and canonical encoding only. All
// other internal packages import ir; ir imports nothing internal, which
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - All JSON tags use snake_case
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - Identity hashes are computed over canonical JSON (see MarshalCanonical)
package ir
