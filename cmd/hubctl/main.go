package main

import "github.com/nfrund/datahub/cmd/hubctl/cmd"

func main() {
	cmd.Execute()
}
