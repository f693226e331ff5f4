package main

import (
	"github.com/vitasync/vitasync/cmd"
	"github.com/vitasync/vitasync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
