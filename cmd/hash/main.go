// Package main prints the bcrypt hash of a password so that users can be
// seeded directly into the users table without going through registration.
// It uses the same cost as the server.
//
//	go run ./cmd/hash 'correct horse battery staple'
package main

import (
	"fmt"
	"os"

	"github.com/crm-platform/crm/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(2)
	}
	hash, err := auth.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
