package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"text/template"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/runner"
	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfDir  = "/etc/nginx/conf.d"
	DefaultUpstream = "http://127.0.0.1:8080"
	DefaultWebRoot  = "/var/www/html"
)

var hostnameRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

var vhostTemplate = template.Must(template.New("vhost").Parse(`# Managed by subdomain-manager. Changes will be overwritten.
server {
    listen 80;
    listen [::]:80;
    server_name {{ .Name }};

    location /.well-known/acme-challenge/ {
        root {{ .WebRoot }};
    }

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    server_name {{ .Name }};

    ssl_certificate {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_prefer_server_ciphers off;

    location / {
        proxy_pass {{ .Upstream }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
}
`))

type Config struct {
	ConfDir   string
	Upstream  string
	WebRoot   string
	NginxPath string
}

type vhost struct {
	Name     string
	CertPath string
	KeyPath  string
	Upstream string
	WebRoot  string
}

// Nginx writes one TLS-terminating vhost file per subdomain and activates it.
type Nginx struct {
	cfg    Config
	runner runner.Runner
	log    *logrus.Entry

	// nginx -t validates the whole configuration, so writes for different names are serialized too
	mu sync.Mutex
}

func NewNginx(cfg Config, r runner.Runner, log *logrus.Entry) *Nginx {
	if cfg.ConfDir == "" {
		cfg.ConfDir = DefaultConfDir
	}
	if cfg.Upstream == "" {
		cfg.Upstream = DefaultUpstream
	}
	if cfg.WebRoot == "" {
		cfg.WebRoot = DefaultWebRoot
	}
	if cfg.NginxPath == "" {
		cfg.NginxPath = "nginx"
	}
	return &Nginx{
		cfg:    cfg,
		runner: r,
		log:    log,
	}
}

func (n *Nginx) ConfigPath(name string) string {
	return filepath.Join(n.cfg.ConfDir, name+".conf")
}

func (n *Nginx) Render(name, certPath, keyPath string) (string, error) {
	if !hostnameRE.MatchString(name) {
		return "", fmt.Errorf("invalid server name %q", name)
	}

	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, vhost{
		Name:     name,
		CertPath: certPath,
		KeyPath:  keyPath,
		Upstream: n.cfg.Upstream,
		WebRoot:  n.cfg.WebRoot,
	}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Configure installs the vhost for name and reloads nginx. If the resulting configuration
// does not validate, the previous file is put back, nginx is not reloaded and ErrConfigInvalid is returned.
func (n *Nginx) Configure(ctx context.Context, name, certPath, keyPath string) error {
	content, err := n.Render(name, certPath, keyPath)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.ConfigPath(name)
	previous, err := os.ReadFile(path)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if hadPrevious && bytes.Equal(previous, []byte(content)) {
		n.log.Debugf("vhost for %s unchanged", name)
	} else if err := renameio.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write vhost for %s: %w", name, err)
	}

	if err := n.test(ctx); err != nil {
		if rbErr := n.restore(path, previous, hadPrevious); rbErr != nil {
			n.log.Errorf("unable to restore previous vhost for %s: %v", name, rbErr)
		}
		return err
	}

	if err := n.reload(ctx); err != nil {
		return err
	}

	n.log.Infof("nginx configured for %s", name)
	return nil
}

// Remove deletes the vhost for name, if any, and reloads nginx.
func (n *Nginx) Remove(ctx context.Context, name string) error {
	if !hostnameRE.MatchString(name) {
		return fmt.Errorf("invalid server name %q", name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.ConfigPath(name)
	previous, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return err
	}
	if err := n.test(ctx); err != nil {
		if rbErr := n.restore(path, previous, true); rbErr != nil {
			n.log.Errorf("unable to restore vhost for %s: %v", name, rbErr)
		}
		return err
	}
	return n.reload(ctx)
}

func (n *Nginx) test(ctx context.Context) error {
	res, err := n.runner.Run(ctx, n.cfg.NginxPath, "-t")
	if err != nil {
		return fmt.Errorf("%w: nginx -t: %v", model.ErrToolFailure, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s", model.ErrConfigInvalid, res.Output())
	}
	return nil
}

func (n *Nginx) reload(ctx context.Context) error {
	res, err := n.runner.Run(ctx, n.cfg.NginxPath, "-s", "reload")
	if err != nil {
		return fmt.Errorf("%w: nginx reload: %v", model.ErrToolFailure, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: nginx reload exited %d: %s", model.ErrToolFailure, res.ExitCode, res.Output())
	}
	return nil
}

func (n *Nginx) restore(path string, previous []byte, hadPrevious bool) error {
	if !hadPrevious {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return renameio.WriteFile(path, previous, 0644)
}
