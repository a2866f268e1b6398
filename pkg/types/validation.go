package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Shared validator; it caches struct metadata so one instance serves every payload.
var validate = validator.New()

func init() {
	// Report fields by their wire names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// IsValidSection reports whether s names one of the two sections.
func IsValidSection(s Section) bool {
	return s == SectionChat || s == SectionMedia
}

// IsSendableKind reports whether k may be used on an inbound message.
func IsSendableKind(k Kind) bool {
	return k == KindText || k == KindMedia
}

// Validate checks a join payload.
func (p *JoinPayload) Validate() error {
	p.Username = strings.TrimSpace(p.Username)
	if err := check(p); err != nil {
		return err
	}
	if p.Username == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrBlankUsername)
	}
	return nil
}

// Normalize applies wire defaults: an omitted type means text.
func (p *MessagePayload) Normalize() {
	p.Username = strings.TrimSpace(p.Username)
	if p.Type == "" {
		p.Type = KindText
	}
}

// Validate checks a message payload. Call Normalize first.
func (p *MessagePayload) Validate() error {
	if err := check(p); err != nil {
		return err
	}
	if p.Username == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrBlankUsername)
	}
	if p.Type == KindText && strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrEmptyText)
	}
	return nil
}

// Validate checks a deleteMessage payload.
func (p *DeletePayload) Validate() error {
	return check(p)
}

// Validate checks a leave payload.
func (p *LeavePayload) Validate() error {
	return check(p)
}

func check(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	case "max":
		return fmt.Errorf("%w: %s exceeds %s characters", ErrInvalidPayload, field, fe.Param())
	case "oneof":
		if field == "section" {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrInvalidSection)
		}
		return fmt.Errorf("%w: %w", ErrInvalidPayload, ErrInvalidKind)
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidPayload, field, fe.Tag())
	}
}
