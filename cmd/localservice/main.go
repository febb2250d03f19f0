// Command localservice inspects and edits a local record store.
package main

import "github.com/mesh-intelligence/localservice/internal/cli"

func main() {
	cli.Execute()
}
