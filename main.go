package main

import "github.com/mickamy/rockscope/cmd"

func main() {
	cmd.Execute()
}
