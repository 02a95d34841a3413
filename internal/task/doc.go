// Package task holds the handler table that replaces shipping code across an
// isolation boundary. A work unit names a task; the worker looks the name up
// in its Registry and runs the handler with the decoded arguments, the
// injected context variables and the bound capabilities.
package task
