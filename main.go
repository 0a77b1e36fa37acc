package main

import "github.com/decahq/deca/cmd"

func main() {
	cmd.Execute()
}
