package main

import "obyra-pricing/internal/cli"

func main() {
	cli.Execute()
}
