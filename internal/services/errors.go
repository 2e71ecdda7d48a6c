package services

import (
	"errors"

	"github.com/rentacoder/backend/pkg/logger"
)

// Error is a lifecycle failure kind with a stable code. Kinds are compared
// with errors.Is; several kinds may be combined with errors.Join.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Account lifecycle
var (
	ErrUnknown               = &Error{Code: "E0x00", Message: "Unknown error."}
	ErrUsernameInUse         = &Error{Code: "E0x01", Message: "Username already in use."}
	ErrEmailInUse            = &Error{Code: "E0x02", Message: "Email already in use."}
	ErrTokenNotFound         = &Error{Code: "E0x03", Message: "Token does not exist."}
	ErrTokenNotValid         = &Error{Code: "E0x04", Message: "Invalid token."}
	ErrResetPasswordExpired  = &Error{Code: "E0x05", Message: "Your token has expired, please request the password reset again."}
	ErrResetPasswordNotMatch = &Error{Code: "E0x06", Message: "Passwords do not match."}
	ErrInvalidPassword       = &Error{Code: "E0x07", Message: "Password must have at least 6 characters and differ from the current one."}
	ErrInvalidCredentials    = &Error{Code: "E0x08", Message: "Invalid username or password."}
	ErrAccountInactive       = &Error{Code: "E0x09", Message: "Account is not active, check your email to activate it."}
	ErrIncorrectPassword     = &Error{Code: "E0x0A", Message: "Current password is incorrect."}
	ErrUserNotFound          = &Error{Code: "E0x0B", Message: "User not found."}
)

// Project lifecycle
var (
	ErrProjectNotFound         = &Error{Code: "E0x10", Message: "Project not found."}
	ErrNotProjectOwner         = &Error{Code: "E0x11", Message: "Only the project owner can do this."}
	ErrProjectClosed           = &Error{Code: "E0x12", Message: "Project is closed."}
	ErrAlreadyApplied          = &Error{Code: "E0x13", Message: "You already applied to this project."}
	ErrOfferNotFound           = &Error{Code: "E0x14", Message: "Job offer not found."}
	ErrOfferAlreadyAccepted    = &Error{Code: "E0x15", Message: "Job offer already accepted."}
	ErrNoOpeningsAvailable     = &Error{Code: "E0x16", Message: "Project has no openings available."}
	ErrTechnologyNotFound      = &Error{Code: "E0x17", Message: "Technology not found."}
	ErrCannotApplyOwnProject   = &Error{Code: "E0x18", Message: "You cannot apply to your own project."}
	ErrQuestionNotFound        = &Error{Code: "E0x19", Message: "Question not found."}
	ErrQuestionAlreadyAnswered = &Error{Code: "E0x1A", Message: "Question already answered."}
	ErrInvalidProject          = &Error{Code: "E0x1B", Message: "Invalid project: openings must be at least 1, dates use YYYY-MM-DD and the end date cannot precede the start date."}
)

// Scores
var (
	ErrScoreNotFound         = &Error{Code: "E0x20", Message: "Score not found."}
	ErrNotScoreParticipant   = &Error{Code: "E0x21", Message: "You cannot rate this project."}
	ErrScoreAlreadySubmitted = &Error{Code: "E0x22", Message: "Score already submitted."}
	ErrInvalidScore          = &Error{Code: "E0x23", Message: "Score must be between 1 and 5."}
)

// ErrorList flattens err into its lifecycle kinds. Anything that is not a
// kind is reported as ErrUnknown.
func ErrorList(err error) []*Error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var list []*Error
		for _, e := range joined.Unwrap() {
			list = append(list, ErrorList(e)...)
		}
		return list
	}
	var kind *Error
	if errors.As(err, &kind) {
		return []*Error{kind}
	}
	return []*Error{ErrUnknown}
}

// unexpected passes lifecycle kinds through and turns anything else into
// ErrUnknown after logging it as critical.
func unexpected(err error, msg string) error {
	var kind *Error
	if errors.As(err, &kind) {
		return err
	}
	logger.Critical().Err(err).Msg(msg)
	return ErrUnknown
}
