// The main package for the crawl-orchestrator executable.
package main

import (
	"github.com/JakeFAU/crawl-orchestrator/cmd"
)

func main() {
	cmd.Execute()
}
