package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/go-playground/validator/v10"
)

// Validator validates execution requests and workflow definitions
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateRequest validates an execution request
func (v *Validator) ValidateRequest(req *domain.ExecutionRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", domain.ErrInvalidRequest)
	}

	if err := v.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, describe(err))
	}

	return nil
}

// ValidateDefinition validates a definition and its payload
func (v *Validator) ValidateDefinition(def *domain.Definition) error {
	if def == nil {
		return fmt.Errorf("%w: definition is nil", domain.ErrInvalidRequest)
	}

	if err := v.validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, describe(err))
	}

	if !json.Valid(def.Payload) {
		return fmt.Errorf("%w: definition payload is not valid JSON", domain.ErrInvalidRequest)
	}

	// The payload must be runnable by the step engine
	if _, err := domain.ParsePlan(def.Payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	return nil
}

// describe flattens validator errors into a single message
func describe(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msg := ""
	for i, fe := range validationErrors {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag())
	}
	return msg
}
