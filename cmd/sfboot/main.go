// Command sfboot stages pinned native dependencies and builds the project
// that links against them.
package main

import (
	"os"

	"github.com/sfml-ci/sfboot/cmd/sfboot/internal"
)

func main() {
	os.Exit(internal.Execute())
}
