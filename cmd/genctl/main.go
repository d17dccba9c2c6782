package main

import (
	"fmt"
	"os"

	"vidgend/internal/genctl"
)

func main() {
	if err := genctl.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
