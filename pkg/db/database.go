package db

import (
	"github.com/acorn-io/subdomain-manager/pkg/model"
)

type Database interface {
	CreateSubdomain(subdomain *Subdomain) error
	GetSubdomain(id uint) (Subdomain, error)
	GetSubdomainByName(name string) (Subdomain, error)
	ListSubdomains() ([]Subdomain, error)
	ListSubdomainsBySSLStatus(status model.SSLStatus) ([]Subdomain, error)
	UpdateSubdomainStatus(id uint, status SubdomainStatus) error
	DeleteSubdomain(id uint) error

	CreateCredential(credential *Credential) error
	GetCredential(id uint) (Credential, error)
	ListCredentials() ([]Credential, error)
	SaveCredential(credential *Credential) error
	DeleteCredential(id uint) error
}
