// Package kvstore stores conversation messages in Pebble, an ordered
// key-value engine with no query language and no window functions.
//
// # Key Layout
//
//	m:<conversation>\x00<seq uint64 BE><id>  -> JSON record
//	i:<id>                                   -> message key
//
// Message keys sort by (conversation, seq, id), so a conversation is one
// contiguous key range and the predecessor of seq is the last key below
// the seq prefix.
//
// # Concurrency
//
// Inserts lock their conversation, then their message id, and hold a shared
// bulk lock. Each conversation and each id has its own mutex, so inserts to
// different conversations never wait on each other unless they share an id.
// Inserts to the same conversation are serialized so the predecessor lookup
// and the write are atomic with respect to each other. Bulk scopes and
// imports take the bulk lock exclusively.
package kvstore
