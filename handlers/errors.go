package handlers

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/services"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func NewErrorResponse(code string, message string, details ...any) ErrorResponse {
	var detail any
	if len(details) == 1 {
		detail = details[0]
	} else if len(details) > 1 {
		detail = details
	}
	return ErrorResponse{
		Success: false,
		Error:   message,
		Code:    code,
		Details: detail,
	}
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindUnauthorized:
		return fiber.StatusUnauthorized
	case services.KindForbidden:
		return fiber.StatusForbidden
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError renders err. Internal failures are logged and replaced with
// a generic message.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var se *services.Error
	if !errors.As(err, &se) || se.Kind == services.KindInternal {
		logger.Error("request failed",
			zap.Error(err),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).
			JSON(NewErrorResponse("INTERNAL_ERROR", "Internal server error"))
	}
	if se.Details != nil {
		return c.Status(statusFor(se.Kind)).JSON(NewErrorResponse(se.Code, se.Message, se.Details))
	}
	return c.Status(statusFor(se.Kind)).JSON(NewErrorResponse(se.Code, se.Message))
}

// ErrorHandler renders errors that escape handlers, such as unknown routes.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := "REQUEST_ERROR"
			switch fe.Code {
			case fiber.StatusNotFound:
				code = "NOT_FOUND"
			case fiber.StatusMethodNotAllowed:
				code = "METHOD_NOT_ALLOWED"
			case fiber.StatusRequestEntityTooLarge:
				code = "PAYLOAD_TOO_LARGE"
			}
			return c.Status(fe.Code).JSON(NewErrorResponse(code, fe.Message))
		}
		return respondError(c, logger, err)
	}
}

// bind parses the JSON body into dest and runs struct validation. An empty
// body leaves dest untouched.
func bind(c *fiber.Ctx, validate *validator.Validate, dest interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dest); err != nil {
			return services.Validation("INVALID_REQUEST_BODY", "Invalid request body")
		}
	}
	if err := validate.Struct(dest); err != nil {
		e := services.Validation("VALIDATION_ERROR", "Validation failed")
		e.Details = formatValidationErrors(err)
		return e
	}
	return nil
}

// formatValidationErrors formats validation errors for API response
func formatValidationErrors(err error) interface{} {
	var validationErrors []map[string]string

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			validationErrors = append(validationErrors, map[string]string{
				"field":   fe.Field(),
				"tag":     fe.Tag(),
				"value":   fmt.Sprintf("%v", fe.Value()),
				"message": getValidationMessage(fe),
			})
		}
		return validationErrors
	}

	return err.Error()
}

// getValidationMessage returns user-friendly validation messages
func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
