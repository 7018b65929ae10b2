package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/acorn-io/subdomain-manager/pkg/backend"
	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/acorn-io/subdomain-manager/pkg/version"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type handler struct {
	backend  backend.Backend
	validate *validator.Validate
}

func newHandler(b backend.Backend) *handler {
	return &handler{
		backend:  b,
		validate: validator.New(),
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, version.Get())
}

func (h *handler) listSubdomains(w http.ResponseWriter, r *http.Request) {
	subs, err := h.backend.ListSubdomains()
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, subs)
}

func (h *handler) createSubdomain(w http.ResponseWriter, r *http.Request) {
	var input model.SubdomainRequest
	if !h.decode(w, r, &input) {
		return
	}

	sub, err := h.backend.CreateSubdomain(r.Context(), input)
	if err != nil {
		handleError(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, sub)
}

func (h *handler) getSubdomain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.backend.GetSubdomain(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, sub)
}

func (h *handler) deleteSubdomain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.backend.DeleteSubdomain(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.MessageResponse{Message: "subdomain deleted"})
}

func (h *handler) checkWebServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	check, err := h.backend.CheckWebServer(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, check)
}

func (h *handler) issueCertificate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	resp, err := h.backend.IssueCertificate(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeStatus(w, http.StatusAccepted, resp)
}

func (h *handler) checkAllWebServers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.backend.CheckAllWebServers(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *handler) renewCertificates(w http.ResponseWriter, r *http.Request) {
	resp, err := h.backend.RenewCertificates(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, resp)
}

func (h *handler) publicIP(w http.ResponseWriter, r *http.Request) {
	ip, err := h.backend.PublicIP(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, model.PublicIPResponse{IPAddress: ip})
}

func (h *handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.backend.ListCredentials()
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, creds)
}

func (h *handler) createCredential(w http.ResponseWriter, r *http.Request) {
	var input model.CredentialRequest
	if !h.decode(w, r, &input) {
		return
	}

	cred, err := h.backend.CreateCredential(r.Context(), input)
	if err != nil {
		handleError(w, err)
		return
	}
	writeStatus(w, http.StatusCreated, cred)
}

func (h *handler) getCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	cred, err := h.backend.GetCredential(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, cred)
}

func (h *handler) updateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var input model.CredentialUpdateRequest
	if !h.decode(w, r, &input) {
		return
	}

	cred, err := h.backend.UpdateCredential(r.Context(), id, input)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, cred)
}

func (h *handler) deleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.backend.DeleteCredential(id); err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.MessageResponse{Message: "credential deleted"})
}

// validateCredential answers 200 either way; only an unexpected failure is an error.
func (h *handler) validateCredential(w http.ResponseWriter, r *http.Request) {
	var input model.ValidateCredentialRequest
	if !h.decode(w, r, &input) {
		return
	}

	err := h.backend.ValidateCredential(r.Context(), input)
	if err != nil && !errors.Is(err, model.ErrInvalidCredential) {
		handleError(w, err)
		return
	}
	writeSuccess(w, model.ValidateCredentialResponse{Valid: err == nil})
}

// decode reads a JSON body into input and validates it. On failure the response has been written.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, input interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(input); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	if err := h.validate.Struct(input); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id %q", raw))
		return 0, false
	}
	return uint(id), true
}
