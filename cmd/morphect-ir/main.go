/*
Textual IR Obfuscator (Entry Point)

This tool rewrites textual IR modules to resist reverse engineering: it
flattens control flow, inserts bogus branches guarded by opaque predicates,
routes branches and calls through encoded tables, and rewrites integer
arithmetic into mixed boolean-arithmetic forms.
*/
package main

import (
	"github.com/basicacc/morphect-sub000/cmd/morphect-ir/cmd"
)

// main is the entry point of the application.
func main() {
	cmd.Execute()
}
