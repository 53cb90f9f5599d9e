package main

import (
	"fmt"
	"os"
)

//go:noinline
func sleepytime() int {
	return 42
}

func main() {
	fmt.Fprintln(os.Stdout, sleepytime())
}
