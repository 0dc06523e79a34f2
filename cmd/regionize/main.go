// Command regionize reports Go functions whose control flow does not
// structure into nested regions.
//
// Usage:
//
//	regionize ./...
//	regionize -debug 'Parse$' ./...
//
// Or as a vet tool:
//
//	go vet -vettool=$(which regionize) ./...
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/mpyw/regionize"
)

func main() {
	singlechecker.Main(regionize.Analyzer)
}
