package main

import "github.com/grove-sync/grove/cmd"

func main() {
	cmd.Execute()
}
