package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/service"
)

// Authenticator runs the login flow.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password, clientKey string) (service.LoginResult, error)
}

// Registrar creates accounts for the reference gateway.
type Registrar interface {
	Register(ctx context.Context, username, password string) (string, error)
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=1024"`
}

type loginResponse struct {
	Status   string `json:"status"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,printascii"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
}

const maxBodyBytes = 1 << 16

var validate = validator.New()

// decodeAndValidate reads a JSON body into dst and checks its tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: %s", verrs[0].Field(), formatValidationError(verrs[0]))
		}
		return errors.New("validation failed")
	}
	return nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

type handlers struct {
	auth Authenticator
	reg  Registrar
	log  *zap.Logger
	now  func() time.Time
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := h.auth.Authenticate(r.Context(), req.Identifier, req.Password, clientKey(r))
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			writeBadRequest(w, "Invalid request")
			return
		}
		h.log.Error("login failed", zap.Error(err))
		writeInternalError(w)
		return
	}

	switch {
	case res.Allowed:
		out := loginResponse{Status: "allowed"}
		if res.User != nil {
			out.UserID = res.User.ID.String()
			out.Username = res.User.Username
		}
		writeJSON(w, http.StatusOK, out)

	case res.Reason == service.ReasonBlocked:
		body := ErrorResponse{Error: "blocked", Message: "Too many failed attempts."}
		if res.BlockedUntil != nil {
			until := res.BlockedUntil.UTC().Format(time.RFC3339)
			body.Message = "Too many failed attempts. Blocked until " + until
			body.BlockedUntil = &until
			if secs := int(res.BlockedUntil.Sub(h.now()).Seconds()); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		writeJSON(w, http.StatusTooManyRequests, body)

	default:
		remaining := res.Remaining
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:     "invalid_credentials",
			Message:   fmt.Sprintf("Invalid credentials. %d attempts remaining.", remaining),
			Remaining: &remaining,
		})
	}
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id, err := h.reg.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, registerResponse{UserID: id})
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", "Username is already taken")
	case errors.Is(err, errs.ErrValidation):
		writeBadRequest(w, "Invalid request")
	default:
		h.log.Error("register failed", zap.Error(err))
		writeInternalError(w)
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
