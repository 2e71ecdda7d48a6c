package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rentacoder/backend/internal/services"
	"github.com/rentacoder/backend/pkg/response"
)

var errorStatus = map[*services.Error]int{
	services.ErrUnknown: http.StatusInternalServerError,

	services.ErrUsernameInUse:         http.StatusConflict,
	services.ErrEmailInUse:            http.StatusConflict,
	services.ErrTokenNotFound:         http.StatusNotFound,
	services.ErrTokenNotValid:         http.StatusBadRequest,
	services.ErrResetPasswordExpired:  http.StatusGone,
	services.ErrResetPasswordNotMatch: http.StatusBadRequest,
	services.ErrInvalidPassword:       http.StatusBadRequest,
	services.ErrInvalidCredentials:    http.StatusUnauthorized,
	services.ErrAccountInactive:       http.StatusForbidden,
	services.ErrIncorrectPassword:     http.StatusBadRequest,
	services.ErrUserNotFound:          http.StatusNotFound,

	services.ErrProjectNotFound:         http.StatusNotFound,
	services.ErrNotProjectOwner:         http.StatusForbidden,
	services.ErrProjectClosed:           http.StatusConflict,
	services.ErrAlreadyApplied:          http.StatusConflict,
	services.ErrOfferNotFound:           http.StatusNotFound,
	services.ErrOfferAlreadyAccepted:    http.StatusConflict,
	services.ErrNoOpeningsAvailable:     http.StatusConflict,
	services.ErrTechnologyNotFound:      http.StatusBadRequest,
	services.ErrCannotApplyOwnProject:   http.StatusForbidden,
	services.ErrQuestionNotFound:        http.StatusNotFound,
	services.ErrQuestionAlreadyAnswered: http.StatusConflict,
	services.ErrInvalidProject:          http.StatusBadRequest,

	services.ErrScoreNotFound:         http.StatusNotFound,
	services.ErrNotScoreParticipant:   http.StatusForbidden,
	services.ErrScoreAlreadySubmitted: http.StatusConflict,
	services.ErrInvalidScore:          http.StatusBadRequest,
}

// toAppError converts a service error, possibly several joined kinds, into
// one response. The first kind decides the status; every kind is listed in
// the details.
func toAppError(err error) *response.AppError {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	kinds := services.ErrorList(err)
	status, ok := errorStatus[kinds[0]]
	if !ok {
		status = http.StatusInternalServerError
	}

	details := make([]response.ErrorDetail, 0, len(kinds))
	for _, k := range kinds {
		details = append(details, response.ErrorDetail{Code: k.Code, Message: k.Message})
	}
	return (&response.AppError{
		HTTPStatus: status,
		Code:       status,
		Message:    kinds[0].Message,
	}).WithDetails(details)
}

func renderError(c *gin.Context, err error) {
	response.Error(c, toAppError(err))
}

// paramID reads a numeric path parameter, answering 400 when it is not one.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
