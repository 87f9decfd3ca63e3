// Package record defines the message record shared by every chatlink package.
//
// This package contains types and pure helpers only. All other internal
// packages import record; record imports nothing internal.
//
// Key design constraints:
//   - Seq is a logical sequence (int64), never a wall-clock timestamp
//   - Previous is a weak reference by ID; empty means "no predecessor"
//   - All JSON and YAML tags use snake_case
package record
