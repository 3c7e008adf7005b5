// Package registry persists media descriptors, their derived artifacts, and
// operator settings in SQLite.
//
// The registry is the only owner of descriptor and artifact records. Every
// write is a single statement or a single transaction so a crash never leaves
// a partial record behind. Blob storage referenced by replaced or deleted
// artifacts is released only after the owning transaction commits, so the
// database never points at a blob that has already been removed.
//
// Listing is lazy: List returns an iter.Seq2 that pages through descriptors
// with keyset pagination on the token column. Each range over the sequence
// starts from the beginning; ListAfter resumes after a known token.
package registry
