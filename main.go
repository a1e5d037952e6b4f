package main

import (
	"github.com/scantrail/scantrail/cmd"
)

func main() {
	cmd.Execute()
}
