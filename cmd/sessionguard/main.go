package main

import "github.com/ppiankov/sessionguard/internal/cli"

func main() {
	cli.Execute()
}
