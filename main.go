// Command gatherer runs the dealer crawler service and CLI.
package main

import "github.com/JakeFAU/dealer-gatherer/cmd"

func main() {
	cmd.Execute()
}
