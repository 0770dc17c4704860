package main

import "deskflow/cmd/escalator/cli"

func main() {
	cli.Execute()
}
