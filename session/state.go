package session

import "errors"

type State int

const (
	Idle State = iota
	Ready
	Removing
	Succeeded
	Failed
)

var stateNames = map[State]string{
	Idle:      "idle",
	Ready:     "ready",
	Removing:  "removing",
	Succeeded: "succeeded",
	Failed:    "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrClosed            = errors.New("session closed")
	ErrBusy              = errors.New("background removal already in progress")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	ErrNothingToDownload = errors.New("no result to download")
)
