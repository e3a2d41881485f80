package registration

import "time"

// StatusActive is stored on every pending and committed pledge user.
const StatusActive = 1

// Candidate holds the attributes submitted with a registration OTP request.
type Candidate struct {
	FullName     string `json:"full_name" validate:"required,max=100"`
	Age          int    `json:"age" validate:"required,min=13,max=120"`
	Gender       *int   `json:"gender" validate:"required,min=0,max=2"`
	Pincode      string `json:"pincode" validate:"required,pincode"`
	DistrictID   int64  `json:"district" validate:"required,gt=0"`
	StateID      int64  `json:"state" validate:"required,gt=0"`
	Email        string `json:"email" validate:"required,email,max=100"`
	MobileNumber string `json:"mobile_number" validate:"required,mobile"`
}

// PendingRegistration is the candidate snapshot parked in the session store
// until the code is verified.
type PendingRegistration struct {
	Candidate
	Status int `json:"status"`
}

// Phase is the explicit state of a registration transaction.
type Phase string

const (
	PhaseAbsent   Phase = "absent"
	PhasePending  Phase = "pending"
	PhaseVerified Phase = "verified"
)

// Challenge is the current one-time code generation for a transaction.
// Values are replaced wholesale on every mutation.
type Challenge struct {
	CodeHash    []byte    `json:"code_hash"`
	IssuedAt    time.Time `json:"issued_at"`
	Attempts    int       `json:"attempts"`
	ResendCount int       `json:"resend_count"`
	Phase       Phase     `json:"phase"`
}

func (c Challenge) withAttempt() Challenge {
	c.Attempts++
	return c
}

func (c Challenge) verified() Challenge {
	c.Phase = PhaseVerified
	return c
}

// Ticket is returned to callers after a code has been issued.
type Ticket struct {
	TransactionID   string `json:"txn_id"`
	ValiditySeconds int    `json:"validity_seconds"`
}

// SessionState is a read-only view of a transaction.
type SessionState struct {
	TransactionID    string        `json:"txn_id"`
	Phase            Phase         `json:"phase"`
	Attempts         int           `json:"attempts"`
	ResendCount      int           `json:"resend_count"`
	HasData          bool          `json:"has_data"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int           `json:"remaining_seconds"`
}
