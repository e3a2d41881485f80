package registration

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultRiskyChars are dropped when they lead a string input.
var DefaultRiskyChars = []string{"=", "-", "@", "|"}

var (
	mobilePattern  = regexp.MustCompile(`^[6-9]\d{9}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
	codePattern    = regexp.MustCompile(`^\d{6}$`)
	strippedChars  = strings.NewReplacer("{", "", "}", "", "<", "", ">", "", "=", "")
)

// Validator normalizes and checks registration inputs.
type Validator struct {
	validate   *validator.Validate
	riskyChars []string
}

// NewValidator builds a validator. An empty riskyChars falls back to
// DefaultRiskyChars.
func NewValidator(riskyChars []string) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
		return mobilePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("pincode", func(fl validator.FieldLevel) bool {
		return pincodePattern.MatchString(fl.Field().String())
	})
	if len(riskyChars) == 0 {
		riskyChars = DefaultRiskyChars
	}
	return &Validator{validate: v, riskyChars: riskyChars}
}

// Sanitize drops one leading risky character and strips markup characters.
func (v *Validator) Sanitize(s string) string {
	for _, c := range v.riskyChars {
		if c != "" && strings.HasPrefix(s, c) {
			s = s[len(c):]
			break
		}
	}
	return strippedChars.Replace(s)
}

// Candidate returns the normalized candidate or a *ValidationError.
func (v *Validator) Candidate(in Candidate) (Candidate, error) {
	out := in
	out.FullName = strings.TrimSpace(v.Sanitize(in.FullName))
	out.Email = strings.ToLower(strings.TrimSpace(v.Sanitize(in.Email)))
	out.MobileNumber = v.Sanitize(in.MobileNumber)
	out.Pincode = v.Sanitize(in.Pincode)

	if err := v.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Candidate{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		verr := &ValidationError{}
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return Candidate{}, verr
	}
	return out, nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "mobile_number":
		if fe.Tag() == "required" {
			return "Mobile number is required"
		}
		return "Mobile number must be a valid 10-digit Indian number"
	case "full_name":
		if fe.Tag() == "max" {
			return "Full name cannot exceed 100 characters"
		}
		return "Full name is required"
	case "email":
		if fe.Tag() == "required" {
			return "Email is required"
		}
		return "Email must be a valid email address"
	case "age":
		switch fe.Tag() {
		case "min":
			return "Age must be at least 13 years"
		case "max":
			return "Age cannot exceed 120 years"
		}
		return "Age is required"
	case "gender":
		if fe.Tag() == "required" {
			return "Gender is required"
		}
		return "Invalid gender value"
	case "pincode":
		if fe.Tag() == "required" {
			return "Pincode is required"
		}
		return "Pincode must be a valid 6-digit number"
	case "state", "district":
		return fmt.Sprintf("%s must be a valid ID", strings.ToUpper(fe.Field()[:1])+fe.Field()[1:])
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// ValidTransactionID reports whether id is a canonical UUID v4.
func ValidTransactionID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil || len(id) != 36 {
		return false
	}
	return parsed.Version() == 4 && parsed.Variant() == uuid.RFC4122
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
