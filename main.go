// package main is the entry point of the vulngraph command line and API server.
package main

import "github.com/ortelius/vulngraph/cmd"

func main() {
	cmd.Execute()
}
