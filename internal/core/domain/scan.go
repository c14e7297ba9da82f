package domain

type ResolutionKind int

const (
	Resolved ResolutionKind = iota + 1
	Malformed
	Unknown
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Malformed:
		return "malformed"
	case Unknown:
		return "unknown"
	}
	return "invalid"
}

// Resolution is the outcome of decoding one scanned label. Callers branch on
// Kind; Err gives the equivalent error for code that prefers error returns.
type Resolution struct {
	Kind     ResolutionKind
	Payload  string
	SKU      string
	Location string
	Reason   string
}

func (r Resolution) Err() error {
	switch r.Kind {
	case Resolved:
		return nil
	case Unknown:
		return &UnknownSkuError{SKU: r.SKU}
	default:
		return &MalformedPayloadError{Payload: r.Payload, Reason: r.Reason}
	}
}
