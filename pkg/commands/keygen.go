package commands

import (
	"fmt"

	"github.com/acorn-io/subdomain-manager/pkg/rand"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	secretKeyLength  = 48
	adminTokenLength = 32
)

// keygenCommand prints a fresh secret key and admin token. Only the token hash belongs in server config.
func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a secret key and an admin token with its bcrypt hash",
		Action: func(c *cli.Context) error {
			token := rand.String(adminTokenLength)
			hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			fmt.Printf("SUBDOMAIN_MANAGER_SECRET_KEY=%s\n", rand.String(secretKeyLength))
			fmt.Printf("SUBDOMAIN_MANAGER_ADMIN_TOKEN_HASH=%s\n", hash)
			fmt.Printf("# admin token, send as \"Authorization: Bearer <token>\": %s\n", token)
			return nil
		},
	}
}
