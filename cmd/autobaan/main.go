package main

import "github.com/cgduncan7/autobaan/cmd"

func main() {
	cmd.Execute()
}
