package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// renewCommand runs one renewal sweep and exits, for hosts that schedule it externally.
func renewCommand() *cli.Command {
	return &cli.Command{
		Name:  "renew",
		Usage: "renew certificates that are close to expiry, once",
		Action: func(c *cli.Context) error {
			ctx := signals.SetupSignalHandler(context.Background())
			log := logrus.WithField("command", "renew")

			back, err := newBackend(ctx, c, log)
			if err != nil {
				return err
			}
			defer shutdownBackend(back, log)

			result, err := back.RenewCertificates(ctx)
			if err != nil {
				return err
			}

			out, err := json.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
		Flags:  append(backendFlags(), GlobalFlags()...),
		Before: Before,
	}
}
