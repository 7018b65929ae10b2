package commands

import (
	"context"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/apiserver"
	"github.com/acorn-io/subdomain-manager/pkg/scheduler"
	"github.com/acorn-io/subdomain-manager/pkg/version"
	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type apiServerCommand struct{}

func (s *apiServerCommand) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "api-server")

	log.Infof("version: %v", version.Get())

	back, err := newBackend(ctx, c, log)
	if err != nil {
		return err
	}
	defer shutdownBackend(back, log)

	ipCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	if ip, err := back.PublicIP(ipCtx); err != nil {
		log.Warnf("unable to determine public address: %v", err)
	} else {
		log.Infof("public address: %s", ip)
	}
	cancel()

	renewals, err := scheduler.New(c.String("renew-schedule"), func(ctx context.Context) error {
		_, err := back.RenewCertificates(ctx)
		return err
	}, log.WithField("component", "scheduler"))
	if err != nil {
		return err
	}
	renewals.Start()
	defer renewals.Stop()

	apiServer := apiserver.NewAPIServer(ctx, log, c.Int("port"), c.String("admin-token-hash"))

	if err := apiServer.Start(back); err != nil {
		return err
	}

	return nil
}

func serverCommand() *cli.Command {
	cmd := apiServerCommand{}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server Port",
			EnvVars: []string{"SUBDOMAIN_MANAGER_PORT", "PORT"},
			Value:   4315,
		},
		&cli.StringFlag{
			Name:    "admin-token-hash",
			Usage:   "bcrypt hash of the bearer token required on /v1 routes. Generate one with keygen",
			EnvVars: []string{"SUBDOMAIN_MANAGER_ADMIN_TOKEN_HASH"},
		},
		&cli.StringFlag{
			Name:    "renew-schedule",
			Usage:   "Cron schedule, with a leading seconds field, for the certificate renewal sweep",
			EnvVars: []string{"SUBDOMAIN_MANAGER_RENEW_SCHEDULE"},
			Value:   scheduler.DefaultSpec,
		},
	}
	flags = append(flags, backendFlags()...)

	return &cli.Command{
		Name:   "api-server",
		Usage:  "subdomain manager api server and renewal scheduler",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}
