package main

import "github.com/qchong005/nbaidx/cmd/nbaidx/cmd"

func main() {
	cmd.Execute()
}
