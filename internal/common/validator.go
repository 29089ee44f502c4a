package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator is echo's Validator backed by go-playground/validator.
// Failures become an *echo.HTTPError with FailureStatus (400 when unset)
// naming every failing field and the tag it broke.
type GenericEchoValidator struct {
	Validator     *validator.Validate
	FailureStatus int
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if gv.Validator == nil {
		gv.Validator = validator.New()
	}
	err := gv.Validator.Struct(i)
	if err == nil {
		return nil
	}
	status := gv.FailureStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	return echo.NewHTTPError(status, "invalid request: "+describe(err)).SetInternal(err)
}

// FailedFields lists "Field:tag" for each violation in a validation error.
func FailedFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s:%s", fe.Field(), fe.Tag()))
	}
	return fields
}

func describe(err error) string {
	if fields := FailedFields(err); len(fields) > 0 {
		return strings.Join(fields, ", ")
	}
	return err.Error()
}
