// Package engine runs delegations on behalf of the HTTP surface. It records
// each one in the execution journal, fans its step and log events out to
// live subscribers and lets in-flight delegations be cancelled by ID.
package engine
