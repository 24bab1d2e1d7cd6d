// Package policy decides whether a candidate set of transaction-log
// workers is fault tolerant enough.
//
// A policy is a predicate over the localities of a candidate set. The
// shipped variants are "at least one", "across N distinct values of a
// locality key", and conjunction. The package also carries the bounded
// stochastic search used to pick a policy-satisfying subset of a larger
// candidate pool.
package policy
