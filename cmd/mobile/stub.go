//go:build !cgo

// The FFI bridge requires cgo. This stub keeps the package buildable in
// cgo-disabled environments such as cross-compilation checks.
package main

func main() {}
