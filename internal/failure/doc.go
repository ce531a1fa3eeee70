// Package failure defines the closed error taxonomy of the protocol core.
//
// Every fallible operation returns a *Failure carrying one Kind from a fixed
// set. Callers branch on Kind via Is or KindOf instead of matching message
// strings, and transports map kinds to status codes with HTTPStatus. Causes
// are preserved through Unwrap so errors.Is/As keep working across layers.
package failure
