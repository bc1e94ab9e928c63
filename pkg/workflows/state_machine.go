package workflows

// Enrollment states of a (student, course) pair
const (
	StateNone      = "NONE"
	StatePurchased = "PURCHASED"
	StateCertified = "CERTIFIED"
)

// StateMachine enforces status transitions
type StateMachine struct {
	allowedTransitions map[string][]string
}

// New creates a state machine from an explicit transition table
func New(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// NewEnrollmentMachine creates the course enrollment lifecycle. A certified enrollment can be
// certified again only when recertification is allowed.
func NewEnrollmentMachine(allowRecertification bool) *StateMachine {
	certified := []string{}
	if allowRecertification {
		certified = []string{StateCertified}
	}
	return New(map[string][]string{
		StateNone:      {StatePurchased},
		StatePurchased: {StateCertified},
		StateCertified: certified,
	})
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}
