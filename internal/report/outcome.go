package report

import "fmt"

type Kind int

const (
	// Disabled: collection is switched off, nothing was sent.
	Disabled Kind = iota
	// Unchanged: the reading carries no new information, nothing was sent.
	Unchanged
	Success
	RemoteError
	TransportError
)

func (k Kind) String() string {
	switch k {
	case Disabled:
		return "disabled"
	case Unchanged:
		return "unchanged"
	case Success:
		return "success"
	case RemoteError:
		return "remote_error"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one report attempt. StatusCode is set for Success
// and RemoteError, Message for TransportError.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Message    string
}

// Failed reports whether the attempt reached the network and did not succeed.
func (o Outcome) Failed() bool {
	return o.Kind == RemoteError || o.Kind == TransportError
}

func (o Outcome) String() string {
	switch o.Kind {
	case Success, RemoteError:
		return fmt.Sprintf("%s(%d)", o.Kind, o.StatusCode)
	case TransportError:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Message)
	default:
		return o.Kind.String()
	}
}
