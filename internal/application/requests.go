package application

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// Metadata limits. Metadata is free-form and non-secret, but it is rendered in
// admin views so its shape is bounded.
const (
	MaxMetadataKeys     = 16
	MaxMetadataValueLen = 256
)

var metadataKeyPattern = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)

// AddRequest stores a new secret or replaces the live one for the tuple.
type AddRequest struct {
	Actor          string            `json:"actor" validate:"required,max=128,nocontrol"`
	Owner          string            `json:"owner" validate:"required,max=128,nocontrol"`
	Service        string            `json:"service" validate:"required,max=64"`
	CredentialType string            `json:"credential_type" validate:"required,max=64"`
	Secret         string            `json:"secret" validate:"required,max=8192,nocontrol"`
	Label          string            `json:"label" validate:"max=128,nocontrol"`
	Metadata       map[string]string `json:"metadata" validate:"max=16,dive,keys,metakey,endkeys,max=256,nocontrol"`
}

// TestRequest runs the provider probe for a stored credential.
type TestRequest struct {
	Actor          string `json:"actor" validate:"required,max=128,nocontrol"`
	Owner          string `json:"owner" validate:"required,max=128,nocontrol"`
	Service        string `json:"service" validate:"required,max=64"`
	CredentialType string `json:"credential_type" validate:"required,max=64"`
}

// RotateRequest replaces the secret of an existing credential, keeping its id.
type RotateRequest struct {
	Actor          string `json:"actor" validate:"required,max=128,nocontrol"`
	Owner          string `json:"owner" validate:"required,max=128,nocontrol"`
	Service        string `json:"service" validate:"required,max=64"`
	CredentialType string `json:"credential_type" validate:"required,max=64"`
	Secret         string `json:"secret" validate:"required,max=8192,nocontrol"`
	Reason         string `json:"reason" validate:"required,max=512,nocontrol"`
}

// RemoveRequest tombstones a credential.
type RemoveRequest struct {
	Actor          string `json:"actor" validate:"required,max=128,nocontrol"`
	Owner          string `json:"owner" validate:"required,max=128,nocontrol"`
	Service        string `json:"service" validate:"required,max=64"`
	CredentialType string `json:"credential_type" validate:"required,max=64"`
	Reason         string `json:"reason" validate:"required,max=512,nocontrol"`
}

// UseRequest asks for a system credential's plaintext for an outbound call.
type UseRequest struct {
	Actor          string `json:"actor" validate:"required,max=128,nocontrol"`
	Service        string `json:"service" validate:"required,max=64"`
	CredentialType string `json:"credential_type" validate:"required,max=64"`
	Purpose        string `json:"purpose" validate:"required,max=256,nocontrol"`
}

// newValidator returns a validator with the custom tags used by the request types.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("nocontrol", validateNoControl)
	_ = v.RegisterValidation("metakey", validateMetadataKey)
	return v
}

func validateNoControl(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
}

func validateMetadataKey(fl validator.FieldLevel) bool {
	return metadataKeyPattern.MatchString(fl.Field().String())
}

// validateRequest checks req against its struct tags and converts the first
// failure into a *model.ValidationError.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errValidation("", err.Error())
	}

	fe := verrs[0]
	field := fe.Field()
	// Map entries report as metadata[key]; keep the map name for the caller.
	if name, _, ok := strings.Cut(fe.Namespace(), "["); ok && strings.HasSuffix(name, "metadata") {
		field = "metadata"
	}
	return errValidation(field, describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.Map {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "nocontrol":
		return "must not contain control characters"
	case "metakey":
		return "keys must match [a-z0-9_.-] and be 1-64 characters"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// normalizeMetadata returns a copy of md with the label folded in and checks
// that every key the service requires is present.
func normalizeMetadata(spec ServiceSpec, md map[string]string, label string) (map[string]string, error) {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = strings.TrimSpace(v)
	}
	if label = strings.TrimSpace(label); label != "" {
		out["label"] = label
	}
	if len(out) > MaxMetadataKeys {
		return nil, errValidation("metadata", fmt.Sprintf("must have at most %d entries", MaxMetadataKeys))
	}
	for _, key := range spec.RequiredMetadata {
		if out[key] == "" {
			return nil, errValidation("metadata", fmt.Sprintf("%s requires %q", spec.Name, key))
		}
	}
	return out, nil
}

func errValidation(field, reason string) error {
	return model.NewValidationError(field, reason)
}
