// Package memory provides mutex-guarded in-process implementations of
// credential.Store and token.Store for tests and single-node development.
package memory
