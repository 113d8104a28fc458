// Package pool provides reusable search scratch space and a bounded worker
// pool for background jobs.
package pool
