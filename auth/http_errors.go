package auth

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
)

// ErrorResponder renders errors as {success:false, message} bodies with
// a status derived from the go-errors category.
type ErrorResponder struct {
	Logger Logger
	Debug  bool
}

func NewErrorResponder(logger Logger) *ErrorResponder {
	if logger == nil {
		logger = defLogger{}
	}
	return &ErrorResponder{Logger: logger}
}

// Respond writes the error response
func (r *ErrorResponder) Respond(c *fiber.Ctx, err error) error {
	richErr, fields := r.normalize(err)
	status := StatusForCategory(richErr.Category)

	body := fiber.Map{
		"success": false,
		"message": publicMessage(richErr, status),
	}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	if status >= http.StatusInternalServerError {
		r.Logger.Error("Request failed",
			"error", err,
			"path", c.OriginalURL(),
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	} else if r.Debug {
		r.Logger.Debug("Request rejected",
			"error", richErr,
			"status", status,
			"path", c.OriginalURL(),
		)
	}

	return c.Status(status).JSON(body)
}

// Handler can be used as the fiber application error handler
func (r *ErrorResponder) Handler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"success": false,
			"message": fe.Message,
		})
	}
	return r.Respond(c, err)
}

func (r *ErrorResponder) normalize(err error) (*goerrors.Error, map[string]string) {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			if ferr != nil {
				fields[field] = ferr.Error()
			}
		}
		return goerrors.New("Validation failed", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"fields": fields}), fields
	}

	if repository.IsRecordNotFound(err) {
		return goerrors.New("Not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound), nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr, nil
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "Internal server error").
		WithCode(goerrors.CodeInternal), nil
}

// StatusForCategory maps an error category to an HTTP status
func StatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides token failure details and internal errors
func publicMessage(err *goerrors.Error, status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "Internal server error"
	case goerrors.Is(err, ErrTokenExpired), goerrors.Is(err, ErrTokenMalformed), goerrors.Is(err, ErrUnableToDecodeSession):
		return ErrNotAuthenticated.Message
	}
	return err.Message
}
