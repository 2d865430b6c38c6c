package main

import (
	"github.com/oasisprotocol/yieldvault/cmd"
)

func main() {
	cmd.Execute()
}
