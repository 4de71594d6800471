package integrations

import "strings"

// Outcome is the result of a single activation check.
type Outcome int

const (
	// Retry means the system is absent or disabled; check again later.
	Retry Outcome = iota
	// Activate means every check passed.
	Activate
	// Reject means the system is present but unusable; stop checking.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Activate:
		return "activate"
	case Reject:
		return "reject"
	default:
		return "retry"
	}
}

// Decision carries the outcome of a check and what it saw.
type Decision struct {
	Outcome Outcome
	// VersionChecked reports whether a version predicate was evaluated.
	VersionChecked bool
	Version        float64
	Reason         string
}

// Decide evaluates presence, authorship and version for one attempt. It has
// no side effects. An empty author accepts any system; a nil predicate skips
// the version gate.
func Decide(info SystemInfo, found bool, author string, predicate VersionPredicate) Decision {
	if !found || !info.Enabled {
		return Decision{Outcome: Retry, Reason: "not present"}
	}
	if author != "" && !info.HasAuthor(author) {
		return Decision{Outcome: Reject, Reason: "author mismatch"}
	}
	if predicate == nil {
		return Decision{Outcome: Activate}
	}
	v := ExtractVersion(info.Version)
	d := Decision{VersionChecked: true, Version: v}
	if !predicate(v) {
		d.Outcome = Reject
		d.Reason = "version not supported"
		return d
	}
	d.Outcome = Activate
	return d
}

// SystemInfo describes an external system as reported by a PresenceQuery.
type SystemInfo struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Version string   `json:"version"`
	Authors []string `json:"authors,omitempty"`
}

// HasAuthor reports whether author is one of the declared authors.
func (s SystemInfo) HasAuthor(author string) bool {
	for _, a := range s.Authors {
		if strings.TrimSpace(a) == author {
			return true
		}
	}
	return false
}
