// Package common provides shared HTTP helpers for the status API handlers.
package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/relengtools/composer/internal/models"
)

// GetAndValidateURLParam returns the decoded chi URL parameter. Empty values
// and values containing whitespace are rejected.
func GetAndValidateURLParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}
	return decoded, nil
}

// ComposeParams reads the {release}/{request} pair naming a compose. Only
// testing and stable composes exist.
func ComposeParams(r *http.Request) (string, models.UpdateRequest, error) {
	release, err := GetAndValidateURLParam(r, "release")
	if err != nil {
		return "", models.RequestNone, err
	}
	param, err := GetAndValidateURLParam(r, "request")
	if err != nil {
		return "", models.RequestNone, err
	}
	request, err := models.ParseUpdateRequest(param)
	if err != nil || (request != models.RequestTesting && request != models.RequestStable) {
		return "", models.RequestNone, fmt.Errorf("request must be testing or stable, got %q", param)
	}
	return release, request, nil
}
