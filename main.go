package main

import "github.com/kebairia/backchain/cmd"

func main() {
	cmd.Execute()
}
