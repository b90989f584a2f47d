package main

import "github.com/nextlevelbuilder/chimein/cmd"

func main() {
	cmd.Execute()
}
