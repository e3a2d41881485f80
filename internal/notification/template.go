package notification

import (
	"fmt"
	"strings"
	"time"
)

// DefaultOTPTemplate is the DLT-registered OTP wording.
const DefaultOTPTemplate = "<otp> is the OTP for <module>. This is valid for <time>. Do not share this OTP with anyone."

// OTPTemplate renders one-time code messages.
type OTPTemplate struct {
	Body   string
	Module string
}

// Render fills the template placeholders.
func (t OTPTemplate) Render(code string, validity time.Duration) string {
	body := t.Body
	if body == "" {
		body = DefaultOTPTemplate
	}
	return strings.NewReplacer(
		"<otp>", code,
		"<module>", t.Module,
		"<time>", formatValidity(validity),
	).Replace(body)
}

func formatValidity(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return fmt.Sprintf("%d sec", int(d/time.Second))
}
