// driftwatch is a file integrity monitoring and synchronization daemon
// for tracked collections of files.
package main

import "driftwatch/internal/cli"

func main() {
	cli.Execute()
}
