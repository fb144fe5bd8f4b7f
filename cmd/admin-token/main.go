// Package main generates an operator token for the moderation endpoints. The
// server stores only the bcrypt hash of the token (BPH_SECURITY_ADMIN_TOKEN_HASH);
// the raw value printed here goes to the operator's secret store and is never
// written anywhere by the server.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		log.Fatal(err)
	}

	token := "bph_admin_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Admin Token Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nToken:  %s\n", token)
	fmt.Printf("\nHash:   %s\n", string(hash))
	fmt.Println("\nSet the hash in the server environment:")
	fmt.Printf("\n  BPH_SECURITY_ADMIN_TOKEN_HASH='%s'\n", string(hash))
	fmt.Println("\nAuthenticate moderation requests with:")
	fmt.Printf("\n  Authorization: AdminToken %s\n", token)
	fmt.Println("==========================================================")
}
