package handler

import (
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/middleware"
	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/httputil"
	"github.com/jwalitptl/telehealth-api/pkg/validator"
)

// Principal returns the authenticated caller. When it is missing the request
// has already been answered with 401 and ok is false.
func Principal(c *gin.Context) (model.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		httputil.RespondWithError(c, errors.Unauthorized(nil))
	}
	return p, ok
}

// BindJSON decodes and validates the body into req, answering 400 (or 413)
// itself on failure
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			httputil.RespondWithError(c, errors.PayloadTooLarge(tooLarge.Limit))
			return false
		}
		httputil.RespondWithError(c, errors.Validation(validator.Describe(err), err))
		return false
	}
	return true
}

// BindOptionalJSON is BindJSON for endpoints whose body may be omitted
func BindOptionalJSON(c *gin.Context, req interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil && !stderrors.Is(err, io.EOF) {
		httputil.RespondWithError(c, errors.Validation(validator.Describe(err), err))
		return false
	}
	return true
}

// BindQuery decodes query parameters into req
func BindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		httputil.RespondWithError(c, errors.Validation(validator.Describe(err), err))
		return false
	}
	return true
}

// UUIDParam parses a path parameter as a uuid
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httputil.RespondWithError(c, errors.Validation(fmt.Sprintf("invalid %s", name), err))
		return uuid.Nil, false
	}
	return id, true
}

// OptionalUUIDQuery parses an optional query parameter as a uuid
func OptionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httputil.RespondWithError(c, errors.Validation(fmt.Sprintf("invalid %s", name), err))
		return nil, false
	}
	return &id, true
}
