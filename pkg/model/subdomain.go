package model

import (
	"fmt"
)

const (
	WebServerApache  WebServerType = "apache"
	WebServerNginx   WebServerType = "nginx"
	WebServerNodeJS  WebServerType = "nodejs"
	WebServerOther   WebServerType = "other"
	WebServerUnknown WebServerType = "unknown"
)

type WebServerType string

func (wt WebServerType) IsValid() error {
	switch wt {
	case WebServerApache, WebServerNginx, WebServerNodeJS, WebServerOther, WebServerUnknown:
		return nil
	}

	return fmt.Errorf("invalid web server type %q", string(wt))
}

const (
	SSLStatusNone    SSLStatus = "none"
	SSLStatusPending SSLStatus = "pending"
	SSLStatusValid   SSLStatus = "valid"
	SSLStatusExpired SSLStatus = "expired"
	SSLStatusError   SSLStatus = "error"
)

type SSLStatus string

func (s SSLStatus) IsValid() error {
	switch s {
	case SSLStatusNone, SSLStatusPending, SSLStatusValid, SSLStatusExpired, SSLStatusError:
		return nil
	}

	return fmt.Errorf("invalid ssl status %q", string(s))
}

// HasExpiry reports whether a certificate expiry date is meaningful in this status.
// Records in any other status must not carry an expiry date.
func (s SSLStatus) HasExpiry() bool {
	return s == SSLStatusValid || s == SSLStatusExpired
}
