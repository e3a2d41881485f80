package session

import "regexp"

// Key patterns for the ephemeral store. Placeholders are written as ${name}.
const (
	RegistrationOTPKey  = "user|registration_otp|txnId:${txnId}"
	RegistrationDataKey = "user|registration_data|txnId:${txnId}"

	// PledgesPrefix is shared by every aggregate pledge view and is dropped
	// wholesale whenever a new pledge user is committed.
	PledgesPrefix             = "pledges"
	PledgesCountKey           = "pledges|count"
	PledgesTotalCountKey      = "pledges|total_count"
	PledgesTodayTotalCountKey = "pledges|today_total_count"
)

var placeholderPattern = regexp.MustCompile(`\$?\{(\w+)\}`)

// FormatKey substitutes ${name} and {name} placeholders in pattern with the
// matching params entry. Unknown placeholders collapse to the empty string.
func FormatKey(pattern string, params map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(pattern, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		return params[sub[1]]
	})
}

// RegistrationOTP returns the key holding the OTP challenge for txnID.
func RegistrationOTP(txnID string) string {
	return FormatKey(RegistrationOTPKey, map[string]string{"txnId": txnID})
}

// RegistrationData returns the key holding the pending registration for txnID.
func RegistrationData(txnID string) string {
	return FormatKey(RegistrationDataKey, map[string]string{"txnId": txnID})
}
