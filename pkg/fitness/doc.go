// Package fitness classifies worker processes for database roles.
//
// This package handles:
//   - Process class types and their configuration source
//   - The role-class fitness table
//   - Placement comparators used to rank candidate role assignments
package fitness
