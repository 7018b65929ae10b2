package commands

import (
	"context"
	"fmt"

	"github.com/acorn-io/subdomain-manager/pkg/publicip"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func publicIPCommand() *cli.Command {
	return &cli.Command{
		Name:  "public-ip",
		Usage: "print this host's public IPv4 address",
		Action: func(c *cli.Context) error {
			ip, err := publicip.New(logrus.WithField("command", "public-ip")).Resolve(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(ip)
			return nil
		},
		Flags:  GlobalFlags(),
		Before: Before,
	}
}
