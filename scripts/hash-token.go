package main

import (
	"fmt"
	"os"

	"github.com/swappo/pin-server-go/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-token.go <token>\n")
		os.Exit(1)
	}

	fmt.Println(util.HashToken(os.Args[1]))
}
