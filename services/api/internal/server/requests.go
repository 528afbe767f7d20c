package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxJSONBody = 1 << 20

type createFolderRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type completeUploadRequest struct {
	FolderID  string `json:"folderId" validate:"required"`
	ObjectKey string `json:"objectKey" validate:"required,max=1024"`
	Filename  string `json:"filename" validate:"required,max=255"`
	Bytes     int64  `json:"bytes" validate:"gte=0"`
	Mime      string `json:"mime" validate:"omitempty,max=255"`
}

type updateProfileRequest struct {
	FullName         *string        `json:"fullName" validate:"omitempty,max=255"`
	Organization     *string        `json:"organization" validate:"omitempty,max=255"`
	AvatarURL        *string        `json:"avatarUrl" validate:"omitempty,url,max=2048"`
	SubscriptionTier *string        `json:"subscriptionTier" validate:"omitempty,max=64"`
	Metadata         map[string]any `json:"metadata"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a bounded JSON body into dst and validates it. It returns a
// user-facing message on failure.
func (s *Server) decodeJSON(r *http.Request, dst any) (string, bool) {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		return "invalid JSON body", false
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
