package main

import "github.com/example/allybot/cmd"

func main() {
	cmd.Execute()
}
