// The main package for the discord-event-crawler executable.
package main

import (
	"github.com/JakeFAU/discord-event-crawler/cmd"
)

func main() {
	cmd.Execute()
}
