// Package coordkv is the controller's view of the coordination key-value
// store.
//
// The store is an external collaborator; this package defines the
// transactional boundary contract the controller depends on (reads,
// buffered writes, commit, per-key watches), the system key layout, and
// an in-memory implementation used by tests and single-process clusters.
package coordkv
