package main

import "github.com/imobflow/messaging-engine/cmd"

func main() {
	cmd.Execute()
}
