package main

import "stream-acquirer/internal/cli"

func main() {
	cli.Execute()
}
