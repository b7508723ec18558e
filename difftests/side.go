package difftests

// Side selects which implementation a process runs with.
type Side int

const (
	// Reference runs with the implementation variable set to the empty string, so the
	// system library is loaded.
	Reference Side = iota
	// Candidate runs with the implementation under test.
	Candidate
)

func (s Side) String() string {
	switch s {
	case Reference:
		return "reference"
	case Candidate:
		return "candidate"
	default:
		return "unknown"
	}
}
