package main

import (
	"example.com/depot/services/bagtrack/cmd"
)

func main() {
	cmd.Execute()
}
