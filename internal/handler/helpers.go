package handler

import (
	"errors"
	"net/http"
	"reflect"

	"stockledger/internal/auth"
	"stockledger/internal/middleware"
	"stockledger/internal/repository"
	"stockledger/internal/service"
	"stockledger/pkg/pagination"
	"stockledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Lets tags like min=0 work on decimal.Decimal fields.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// ErrorBody is the error envelope; it carries structured details when the
// error type has any.
type ErrorBody struct {
	response.Response
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// bindAndValidate binds the JSON body and runs both binding and validate
// tags. On failure it writes the response and returns false.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		err = validate.Struct(req)
	}
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	c.JSON(http.StatusUnprocessableEntity, ErrorBody{
		Response: response.Error(http.StatusUnprocessableEntity, "Validation failed"),
		Code:     "validation",
		Details:  fields,
	})
	return false
}

// actor returns the principal placed by middleware.JWTAuth, writing 401 when absent.
func actor(c *gin.Context) (auth.Actor, bool) {
	p := middleware.GetPrincipal(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authentication required"))
		return nil, false
	}
	return p, true
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional uuid query parameter; empty yields uuid.Nil.
func queryID(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return uuid.Nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var (
		validation   *service.ValidationError
		insufficient *service.InsufficientStockError
		concurrent   *service.ConcurrentTransitionError
		transition   *service.TransitionError
		duplicate    *service.DuplicateSerialError
	)
	switch {
	case errors.As(err, &validation):
		writeError(c, http.StatusUnprocessableEntity, "validation", err, map[string]string{validation.Field: validation.Message})
	case errors.As(err, &insufficient):
		writeError(c, http.StatusConflict, "insufficient_stock", err, insufficient)
	case errors.As(err, &concurrent):
		writeError(c, http.StatusConflict, "concurrent_transition", err, concurrent)
	case errors.As(err, &transition):
		writeError(c, http.StatusConflict, "invalid_transition", err, transition)
	case errors.As(err, &duplicate):
		writeError(c, http.StatusConflict, "duplicate_serial", err, duplicate)
	case errors.Is(err, service.ErrScanUnmatched):
		writeError(c, http.StatusNotFound, "scan_unmatched", err, nil)
	case errors.Is(err, service.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err, nil)
	case errors.Is(err, service.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden", err, nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "invalid_credentials", err, nil)
	default:
		log.Error().Err(err).
			Str("request_id", c.GetString(middleware.RequestIDKey)).
			Str("path", c.FullPath()).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Internal server error"))
	}
}

func writeError(c *gin.Context, status int, code string, err error, details interface{}) {
	c.JSON(status, ErrorBody{
		Response: response.Error(status, err.Error()),
		Code:     code,
		Details:  details,
	})
}

func listResponse(key string, items interface{}, total int64, page, limit int) map[string]interface{} {
	return response.Page(key, items, total, page, limit)
}

// bindOptional is bindAndValidate for endpoints whose body may be omitted.
func bindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindAndValidate(c, req)
}

func documentFilter(c *gin.Context) (repository.DocumentFilter, bool) {
	warehouseID, ok := queryID(c, "warehouse_id")
	if !ok {
		return repository.DocumentFilter{}, false
	}
	p := pagination.Parse(c)
	return repository.DocumentFilter{
		Status:      c.Query("status"),
		Type:        c.Query("type"),
		WarehouseID: warehouseID,
		Page:        p.Page,
		Limit:       p.Limit,
	}, true
}
