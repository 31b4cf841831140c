// Idiomatic entrypoint for the Cobra CLI that delegates handling to
// the Cobra root command in cmd/arengine/root.go.

package main

import (
	"github.com/arengine/arengine/cmd/arengine"
)

func main() {
	cmd.Execute()
}
