package main

import (
	"github.com/VladMinzatu/kprof/internal/cmd"
)

func main() {
	cmd.Execute()
}
