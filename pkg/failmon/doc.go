// Package failmon implements the failure detection server.
//
// Workers ping the server on a fixed interval; the server keeps a
// versioned liveness map and answers each ping with the delta of status
// changes since the version the client last saw. A periodic task evicts
// clients whose pings stop, using an adaptive threshold derived from the
// second-slowest observed latency so a cluster-wide stall does not declare
// every peer failed at once.
package failmon
