package main

import "github.com/Norgate-AV/gobuild/cmd"

func main() {
	cmd.Execute()
}
