// The main package for the serverlist executable.
package main

import (
	"github.com/xunniaona/RobloxServerListEndpoint/cmd"
)

func main() {
	cmd.Execute()
}
