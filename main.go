package main

import (
	"github.com/luma/waycore/cmd"
)

func main() {
	cmd.Execute()
}
