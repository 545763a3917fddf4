// Command token prints a development access token for the kbsync API,
// signed with the server's configured secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/kbsync/internal/flagx"
	"github.com/dmitrijs2005/kbsync/internal/server/auth"
	"github.com/dmitrijs2005/kbsync/internal/server/config"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

func main() {
	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	uid := fs.String("uid", "", "user id (required)")
	email := fs.String("email", "", "user email")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-uid", "--uid", "-email", "--email"}))

	if *uid == "" {
		fs.Usage()
		os.Exit(2)
	}

	token, err := auth.GenerateToken(models.User{ID: *uid, Email: *email}, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Println(token)
}
