// Command seal encrypts a secret setting with MASTER_KEY so it can be stored
// as an "enc:" value in the environment or the config file.
//
//	MASTER_KEY=... seal AUTH0_MGMT_CLIENT_SECRET 's3cret'
package main

import (
	"fmt"
	"os"

	"rtchat/backend/internal/crypto"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: seal NAME VALUE")
		os.Exit(2)
	}
	sealer, err := crypto.NewSealer(os.Getenv("MASTER_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		os.Exit(1)
	}
	sealed, err := sealer.Seal(os.Args[1], os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(sealed)
}
