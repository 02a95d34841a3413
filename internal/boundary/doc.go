// Package boundary defines the isolation boundary between the delegation
// controller and a worker context, along with the error taxonomy shared by
// every implementation and a registry to select one by name.
//
// A Boundary spawns one worker context per delegated call. The returned Handle
// relays frames in order: Next awaits the worker's next data or error frame,
// Post delivers a resume value, and Terminate stops the context out of band.
// Implementations live in the local, process and socket subpackages.
package boundary
