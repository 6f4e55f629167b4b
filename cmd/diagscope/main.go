// Command diagscope runs the diagnostic server as a standalone process.
package main

import "github.com/diagscope/diagscope/cmd/diagscope/cmd"

func main() {
	cmd.Execute()
}
