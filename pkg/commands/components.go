package commands

import (
	"context"
	"os"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/backend"
	"github.com/acorn-io/subdomain-manager/pkg/certs"
	"github.com/acorn-io/subdomain-manager/pkg/db"
	"github.com/acorn-io/subdomain-manager/pkg/dnsupdate"
	"github.com/acorn-io/subdomain-manager/pkg/inflight"
	"github.com/acorn-io/subdomain-manager/pkg/probe"
	"github.com/acorn-io/subdomain-manager/pkg/proxy"
	"github.com/acorn-io/subdomain-manager/pkg/publicip"
	"github.com/acorn-io/subdomain-manager/pkg/runner"
	"github.com/acorn-io/subdomain-manager/pkg/secrets"
	"github.com/acorn-io/subdomain-manager/pkg/tasks"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

// backendFlags configure everything the lifecycle backend drives.
func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use, sqlite or mysql",
			EnvVars: []string{"SUBDOMAIN_MANAGER_SQL_DIALECT", "SQL_DIALECT"},
			Value:   "sqlite",
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"SUBDOMAIN_MANAGER_SQL_DSN", "SQL_DSN"},
			Value:   "file:subdomains.sqlite?_pragma=foreign_keys(1)",
		},
		&cli.StringFlag{
			Name:     "secret-key",
			Usage:    "Master key used to encrypt stored provider secrets, at least 16 bytes",
			EnvVars:  []string{"SUBDOMAIN_MANAGER_SECRET_KEY", "SECRET_KEY"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "certbot-path",
			Usage:   "Path to the certbot binary",
			EnvVars: []string{"SUBDOMAIN_MANAGER_CERTBOT_PATH"},
			Value:   "certbot",
		},
		&cli.StringFlag{
			Name:    "openssl-path",
			Usage:   "Path to the openssl binary",
			EnvVars: []string{"SUBDOMAIN_MANAGER_OPENSSL_PATH"},
			Value:   "openssl",
		},
		&cli.StringFlag{
			Name:    "webroot",
			Usage:   "Directory served for ACME http-01 challenges",
			EnvVars: []string{"SUBDOMAIN_MANAGER_WEBROOT"},
			Value:   certs.DefaultWebRoot,
		},
		&cli.StringFlag{
			Name:    "letsencrypt-live-dir",
			Usage:   "Directory where certbot keeps the current certificate of each name",
			EnvVars: []string{"SUBDOMAIN_MANAGER_LETSENCRYPT_LIVE_DIR"},
			Value:   certs.DefaultLiveDir,
		},
		&cli.StringFlag{
			Name:    "contact-email",
			Usage:   "ACME account contact. Defaults to admin@ the parent domain of each name",
			EnvVars: []string{"SUBDOMAIN_MANAGER_CONTACT_EMAIL"},
		},
		&cli.BoolFlag{
			Name:    "acme-staging",
			Usage:   "Issue certificates from the Let's Encrypt staging environment",
			EnvVars: []string{"SUBDOMAIN_MANAGER_ACME_STAGING"},
		},
		&cli.DurationFlag{
			Name:    "renew-before",
			Usage:   "Renew certificates that expire within this window",
			EnvVars: []string{"SUBDOMAIN_MANAGER_RENEW_BEFORE"},
			Value:   certs.DefaultRenewBefore,
		},
		&cli.StringFlag{
			Name:    "nginx-path",
			Usage:   "Path to the nginx binary",
			EnvVars: []string{"SUBDOMAIN_MANAGER_NGINX_PATH"},
			Value:   "nginx",
		},
		&cli.StringFlag{
			Name:    "nginx-conf-dir",
			Usage:   "Directory nginx includes per-subdomain vhost files from",
			EnvVars: []string{"SUBDOMAIN_MANAGER_NGINX_CONF_DIR"},
			Value:   proxy.DefaultConfDir,
		},
		&cli.StringFlag{
			Name:    "proxy-upstream",
			Usage:   "Upstream URL TLS traffic is proxied to",
			EnvVars: []string{"SUBDOMAIN_MANAGER_PROXY_UPSTREAM"},
			Value:   proxy.DefaultUpstream,
		},
		&cli.DurationFlag{
			Name:    "probe-timeout",
			Usage:   "Timeout for each web server probe attempt",
			EnvVars: []string{"SUBDOMAIN_MANAGER_PROBE_TIMEOUT"},
			Value:   probe.DefaultTimeout,
		},
		&cli.IntFlag{
			Name:    "dns-attempts",
			Usage:   "Attempts made to upsert a DNS record before giving up",
			EnvVars: []string{"SUBDOMAIN_MANAGER_DNS_ATTEMPTS"},
			Value:   backend.DefaultDNSAttempts,
		},
		&cli.DurationFlag{
			Name:    "dns-retry-delay",
			Usage:   "Delay between DNS upsert attempts",
			EnvVars: []string{"SUBDOMAIN_MANAGER_DNS_RETRY_DELAY"},
			Value:   backend.DefaultDNSRetryDelay,
		},
		&cli.IntFlag{
			Name:    "task-concurrency",
			Usage:   "Certificate issuances allowed to run at once",
			EnvVars: []string{"SUBDOMAIN_MANAGER_TASK_CONCURRENCY"},
			Value:   tasks.DefaultConcurrency,
		},
	}
}

// newBackend wires the backend and its collaborators from flags.
func newBackend(ctx context.Context, c *cli.Context, log *logrus.Entry) (backend.Backend, error) {
	database, err := db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), &gorm.Config{
		Logger: db.NewLogger(c.String("log-level")),
	})
	if err != nil {
		return nil, err
	}

	box, err := secrets.NewBox(c.String("secret-key"))
	if err != nil {
		return nil, err
	}

	webRoot := c.String("webroot")
	if err := os.MkdirAll(webRoot, 0755); err != nil {
		log.Warnf("unable to create webroot %s: %v", webRoot, err)
	}

	tools := runner.New(log.WithField("component", "runner"))
	registry := inflight.New()

	nginx := proxy.NewNginx(proxy.Config{
		ConfDir:   c.String("nginx-conf-dir"),
		Upstream:  c.String("proxy-upstream"),
		WebRoot:   webRoot,
		NginxPath: c.String("nginx-path"),
	}, tools, log.WithField("component", "nginx"))

	manager := certs.New(certs.Config{
		CertbotPath:  c.String("certbot-path"),
		OpenSSLPath:  c.String("openssl-path"),
		WebRoot:      webRoot,
		LiveDir:      c.String("letsencrypt-live-dir"),
		ContactEmail: c.String("contact-email"),
		Staging:      c.Bool("acme-staging"),
		RenewBefore:  c.Duration("renew-before"),
	}, tools, database, nginx, registry, log.WithField("component", "certs"))

	// Background work outlives the request or signal that started it; Shutdown bounds it instead.
	queue := tasks.New(context.Background(), log.WithField("component", "tasks"), c.Int("task-concurrency"))

	return backend.NewBackend(backend.Components{
		Database: database,
		Secrets:  box,
		Resolver: publicip.New(log.WithField("component", "publicip")),
		Prober:   probe.New(log.WithField("component", "probe"), c.Duration("probe-timeout")),
		Records:  dnsupdate.New(database, box, log.WithField("component", "dns")),
		Certs:    manager,
		Proxy:    nginx,
		Queue:    queue,
		Inflight: registry,
	}, backend.DNSRetry(c.Int("dns-attempts"), c.Duration("dns-retry-delay")), log.WithField("component", "backend")), nil
}

func shutdownBackend(b backend.Backend, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.Shutdown(ctx); err != nil {
		log.WithError(err).Error("background tasks did not finish in time")
	}
}
