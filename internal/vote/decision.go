package vote

// Outcome is the closed set of results for one submission.
type Outcome int

const (
	RejectInvalidCandidate Outcome = iota
	RejectAddressLocked
	RejectDuplicate
	RejectRateLimited
	AcceptRepeat
	AcceptNew
	AcceptChange
)

func (o Outcome) String() string {
	switch o {
	case RejectInvalidCandidate:
		return "invalid_candidate"
	case RejectAddressLocked:
		return "address_locked"
	case RejectDuplicate:
		return "duplicate"
	case RejectRateLimited:
		return "rate_limited"
	case AcceptRepeat:
		return "repeat"
	case AcceptNew:
		return "new"
	case AcceptChange:
		return "change"
	}
	return "unknown"
}

func (o Outcome) Accepted() bool {
	return o >= AcceptRepeat
}

// Err maps a rejecting outcome to its error; accepting outcomes map to nil.
func (o Outcome) Err() error {
	switch o {
	case RejectInvalidCandidate:
		return ErrInvalidCandidate
	case RejectAddressLocked:
		return ErrAddressLocked
	case RejectDuplicate:
		return ErrDuplicateVote
	case RejectRateLimited:
		return ErrRateLimited
	}
	return nil
}

// Facts is what the orchestrator knows about a submission when it decides.
// Gates that were never consulted are left false.
type Facts struct {
	ValidCandidate bool
	Requested      string
	HasRecord      bool
	Previous       string
	Bypass         bool // operator test mode

	AddressLocked bool
	Duplicate     bool
	AtCap         bool
}

// Decide is a pure function of the facts. The order of the checks is the
// order a submission is evaluated in.
func Decide(f Facts) Outcome {
	if !f.ValidCandidate {
		return RejectInvalidCandidate
	}
	if f.HasRecord && f.Previous == f.Requested {
		return AcceptRepeat
	}
	if !f.HasRecord && !f.Bypass {
		if f.AddressLocked {
			return RejectAddressLocked
		}
		if f.Duplicate {
			return RejectDuplicate
		}
	}
	if f.AtCap {
		return RejectRateLimited
	}
	if f.HasRecord {
		return AcceptChange
	}
	return AcceptNew
}
