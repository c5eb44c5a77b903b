// Package main provides the PlateSync Go core library entry point.
// This is a platform-agnostic library that can be compiled as:
// - Shared library for mobile (Dart FFI)
// - Standalone sync daemon for desktop
package main

import (
	"fmt"
)

// Version is set at build time
var Version = "0.1.0"

func banner() string {
	return fmt.Sprintf("PlateSync Core v%s", Version)
}

func main() {
	fmt.Println(banner())
}
