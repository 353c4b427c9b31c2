package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// ContextParams is the body of POST /context. Timeout is the first-chunk
// bound in seconds; zero keeps the server default.
type ContextParams struct {
	Prompt  string `json:"prompt" validate:"required"`
	Lang    string `json:"lang" validate:"omitempty,min=2,max=16"`
	TopK    int    `json:"top_k" validate:"omitempty,min=1"`
	Timeout int    `json:"timeout" validate:"omitempty,min=1,max=600"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *ContextParams) Validate() map[string]string {
	if err := validate.Struct(params); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"body": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

// GenerateRequest is the per-request generation input once the body has
// been validated and defaults applied.
type GenerateRequest struct {
	Prompt  string
	Lang    string
	TopK    int
	Timeout time.Duration
}
