package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/sirupsen/logrus"
)

func writeError(w http.ResponseWriter, httpStatus int, err error) {
	if httpStatus >= http.StatusInternalServerError {
		logrus.Errorf("got a response error: %v", err)
	} else {
		logrus.Debugf("got a response error: %v", err)
	}
	o := model.ErrorResponse{
		Status:  httpStatus,
		Message: err.Error(),
	}
	res, _ := json.Marshal(o)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}

// handleError writes err with the status its kind maps to.
func handleError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrZoneNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyExists), errors.Is(err, model.ErrInProgress), errors.Is(err, model.ErrNoWebServer):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidCredential):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrToolFailure), errors.Is(err, model.ErrParseFailure), errors.Is(err, model.ErrConfigInvalid):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeStatus(w, http.StatusOK, data)
}

func writeStatus(w http.ResponseWriter, httpStatus int, data interface{}) {
	res, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}
