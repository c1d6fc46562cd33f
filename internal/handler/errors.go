package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/mathtrainer/internal/grading"
	"github.com/pavelanni/mathtrainer/internal/i18n"
	"github.com/pavelanni/mathtrainer/internal/model"
	"github.com/pavelanni/mathtrainer/internal/store"
)

var (
	// errMalformedBody marks a request body that is not valid JSON for the endpoint.
	errMalformedBody = errors.New("malformed request body")
	// errBadParam marks a query parameter that cannot be parsed.
	errBadParam = errors.New("bad query parameter")
	// errNoTopicMatch marks a random pick with no candidate question.
	errNoTopicMatch = errors.New("no question for topic")
)

// statusFor maps internal errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errMalformedBody),
		errors.Is(err, errBadParam),
		errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, grading.ErrUnknownExercise):
		return http.StatusBadRequest
	case errors.Is(err, errNoTopicMatch),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// safeMessage returns a client-facing message that never leaks storage details.
func safeMessage(ctx context.Context, err error, status int) string {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return validationMessage(verrs)
	case errors.Is(err, errNoTopicMatch):
		return i18n.T(ctx, "NoQuestionForTopic")
	case errors.Is(err, store.ErrNotFound):
		return i18n.T(ctx, "QuestionNotFound")
	case errors.Is(err, grading.ErrUnknownExercise):
		return "Unknown exercise_id"
	case errors.Is(err, errMalformedBody):
		return "Malformed JSON body"
	case errors.Is(err, errBadParam), errors.Is(err, model.ErrInvalidInput):
		return err.Error()
	}
	if status >= http.StatusInternalServerError {
		return "An unexpected error occurred"
	}
	return http.StatusText(status)
}

func validationMessage(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "gte", "lte", "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}
