package main

import "github.com/ppiankov/ledgerwatch/internal/cli"

func main() {
	cli.Execute()
}
