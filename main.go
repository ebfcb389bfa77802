package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"licgate/config"
	"licgate/internal/secrets"
	"licgate/server"
)

func main() {
	hashToken := flag.String("hash-token", "", "print argon2id hash of the given admin token and exit")
	newToken := flag.Bool("new-admin-token", false, "generate an admin token, print it with its hash and exit")
	flag.Parse()

	switch {
	case *newToken:
		tok, err := secrets.NewToken()
		if err != nil {
			log.Fatal(err)
		}
		printHash(tok, true)
		return
	case *hashToken != "":
		printHash(*hashToken, false)
		return
	}

	cfg := config.MustLoad()
	app := &server.App{}
	if err := app.Initialize(cfg); err != nil {
		log.Fatal(err)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

func printHash(token string, showToken bool) {
	h, err := secrets.HashToken(token)
	if err != nil {
		log.Fatal(err)
	}
	if showToken {
		fmt.Fprintf(os.Stdout, "token: %s\n", token)
	}
	fmt.Fprintf(os.Stdout, "ADMIN_TOKEN_HASH=%s\n", h)
}
