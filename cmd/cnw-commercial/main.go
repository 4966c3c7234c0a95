// Command cnw-commercial runs the commercial API gateway and provides
// operator tools for request signing and endpoint ciphertexts.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
