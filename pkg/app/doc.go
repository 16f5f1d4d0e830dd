// Package app wires configuration into the billing core and its backends.
// The API server and the job runner both build on it.
package app
