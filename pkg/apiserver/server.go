package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acorn-io/subdomain-manager/pkg/backend"
	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/acorn-io/subdomain-manager/pkg/version"
	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type apiServer struct {
	ctx            context.Context
	log            *logrus.Entry
	port           int
	adminTokenHash string
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, port int, adminTokenHash string) *apiServer {
	return &apiServer{
		ctx:            ctx,
		log:            log,
		port:           port,
		adminTokenHash: adminTokenHash,
	}
}

func (a *apiServer) Start(backend backend.Backend) error {
	logrus.Infof("Version: %s", version.Get())

	if a.adminTokenHash == "" {
		a.log.Warn("no admin token hash configured, the /v1 API is unauthenticated")
	}

	// Below this point is where the server is started and graceful shutdown occurs.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           ghandlers.CORS()(newRouter(backend, a.log, a.adminTokenHash)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("port", a.port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-a.ctx.Done():
	}

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}

	return nil
}

func newRouter(backend backend.Backend, log *logrus.Entry, adminTokenHash string) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(log))
	h := newHandler(backend)

	// When functioning properly, these routes will return the version of tha app that is running
	router.Path("/").HandlerFunc(h.root)
	router.Path("/healthz").HandlerFunc(h.root)
	router.Path("/metrics").Handler(metrics.Handler())

	// All routes using this api subrouter will require the admin token, when one is configured
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(adminAuthMiddleware(adminTokenHash))

	api.Path("/subdomains").Methods("GET").HandlerFunc(h.listSubdomains)
	api.Path("/subdomains").Methods("POST").HandlerFunc(h.createSubdomain)
	// Registered ahead of /subdomains/{id} so the literal path wins
	api.Path("/subdomains/check-all-webservers").Methods("POST").HandlerFunc(h.checkAllWebServers)
	api.Path("/subdomains/{id:[0-9]+}").Methods("GET").HandlerFunc(h.getSubdomain)
	api.Path("/subdomains/{id:[0-9]+}").Methods("DELETE").HandlerFunc(h.deleteSubdomain)

	// These are "actions" that can be taken on a subdomain
	api.Path("/subdomains/{id:[0-9]+}/check-webserver").Methods("POST").HandlerFunc(h.checkWebServer)
	api.Path("/subdomains/{id:[0-9]+}/issue-certificate").Methods("POST").HandlerFunc(h.issueCertificate)

	api.Path("/certificates/renew").Methods("POST").HandlerFunc(h.renewCertificates)
	api.Path("/public-ip").Methods("GET").HandlerFunc(h.publicIP)

	api.Path("/credentials").Methods("GET").HandlerFunc(h.listCredentials)
	api.Path("/credentials").Methods("POST").HandlerFunc(h.createCredential)
	api.Path("/credentials/validate").Methods("POST").HandlerFunc(h.validateCredential)
	api.Path("/credentials/{id:[0-9]+}").Methods("GET").HandlerFunc(h.getCredential)
	api.Path("/credentials/{id:[0-9]+}").Methods("PUT").HandlerFunc(h.updateCredential)
	api.Path("/credentials/{id:[0-9]+}").Methods("DELETE").HandlerFunc(h.deleteCredential)

	// Note: this allows not found urls to be logged via the middleware
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(http.NotFound).GetHandler()

	return router
}
