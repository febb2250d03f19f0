// Package types defines the LocalService interface, the record and query
// abstractions it is parameterized by, result streams, monitoring snapshots,
// configuration, and the standard errors of the localservice access layer.
//
// Callers describe what to read with a QuerySpec (record type, optional
// Predicate, optional sort) and receive results as a Stream of detached
// records. Records never reference the database handle that produced them.
package types
