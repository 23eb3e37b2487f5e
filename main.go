package main

import "github.com/andresmejia3/tally/cmd"

func main() {
	cmd.Execute()
}
