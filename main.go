package main

import "github.com/killallgit/streamline/cmd"

func main() {
	cmd.Execute()
}
