package main

import "github.com/lettucelabs/lettuce/cmd"

func main() {
	cmd.Execute()
}
