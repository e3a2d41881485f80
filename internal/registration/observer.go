package registration

// Event names a manager outcome worth counting.
type Event string

const (
	EventRequested        Event = "requested"
	EventResent           Event = "resent"
	EventResendRejected   Event = "resend_rejected"
	EventDeliveryFailed   Event = "delivery_failed"
	EventVerifyMatched    Event = "verify_matched"
	EventVerifyMismatched Event = "verify_mismatched"
	EventVerifyExhausted  Event = "verify_exhausted"
	EventVerifyAbsent     Event = "verify_absent"
	EventCommitted        Event = "committed"
	EventCommitFailed     Event = "commit_failed"
)

// Observer receives manager events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Record(event Event)
}

type nopObserver struct{}

func (nopObserver) Record(Event) {}
