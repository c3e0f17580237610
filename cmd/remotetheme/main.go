package main

import "github.com/remotetheme/remotetheme/pkg/cmd"

func main() {
	cmd.Execute()
}
