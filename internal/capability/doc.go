// Package capability resolves named capability modules into the references a
// work unit sees inside its worker. A module exposes a default export and a set
// of named exports; a work unit asks for them with binding specs such as
// "default as fs", "* as os", "arch" or "arch as archb".
//
// Resolution happens on the host before a boundary is spawned, so an unknown
// module or export fails the delegation up front. Materialization happens in
// the worker, which looks the same modules up in its own registry.
package capability
