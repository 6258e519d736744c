package model

import (
	"encoding/json"
	"fmt"
)

// AuthStatus is the calendar permission level, as reported by a source.
type AuthStatus int

const (
	AuthUndetermined AuthStatus = iota
	AuthAuthorized
	AuthFullAccess
	AuthWriteOnly
	AuthDenied
	AuthRestricted
	AuthError
)

var authStatusNames = map[AuthStatus]string{
	AuthUndetermined: "undetermined",
	AuthAuthorized:   "authorized",
	AuthFullAccess:   "full_access",
	AuthWriteOnly:    "write_only",
	AuthDenied:       "denied",
	AuthRestricted:   "restricted",
	AuthError:        "error",
}

func (s AuthStatus) String() string {
	if n, ok := authStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("AuthStatus(%d)", int(s))
}

// AuthorizationState is the permission state published to observers.
// Message is only meaningful for AuthError; two states are equal (==) when
// both the status and the message match.
type AuthorizationState struct {
	Status  AuthStatus
	Message string
}

// AuthState builds a state without a message. Use AuthFailure for errors.
func AuthState(s AuthStatus) AuthorizationState {
	return AuthorizationState{Status: s}
}

// AuthFailure builds an error state carrying msg.
func AuthFailure(msg string) AuthorizationState {
	return AuthorizationState{Status: AuthError, Message: msg}
}

// AllowsRead reports whether events may be fetched in this state.
func (a AuthorizationState) AllowsRead() bool {
	return a.Status == AuthFullAccess || a.Status == AuthAuthorized
}

func (a AuthorizationState) String() string {
	if a.Status == AuthError {
		return "error(" + a.Message + ")"
	}
	return a.Status.String()
}

type authJSON struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (a AuthorizationState) MarshalJSON() ([]byte, error) {
	out := authJSON{Status: a.Status.String()}
	if a.Status == AuthError {
		out.Message = a.Message
	}
	return json.Marshal(out)
}

func (a *AuthorizationState) UnmarshalJSON(b []byte) error {
	var in authJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	for s, name := range authStatusNames {
		if name == in.Status {
			*a = AuthorizationState{Status: s}
			if s == AuthError {
				a.Message = in.Message
			}
			return nil
		}
	}
	return fmt.Errorf("model: unknown authorization status %q", in.Status)
}
