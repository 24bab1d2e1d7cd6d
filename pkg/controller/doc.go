// Package controller implements the cluster controller of the database.
//
// The controller is the single elected coordinator of a cluster. It
// tracks the worker population and their liveness, assigns workers to
// database roles (master, transaction logs, proxies, resolvers, storage),
// watches the master and forces a failover when it dies or a materially
// better placement appears, and publishes the authoritative topology view
// to every client and server through versioned database-info broadcasts.
//
// Leader election among controller candidates, the master's own recovery
// protocol, and the coordination store internals are external
// collaborators; this package consumes them through narrow interfaces.
package controller
