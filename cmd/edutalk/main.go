package main

import "edutalk/internal/cli"

func main() {
	cli.Execute()
}
