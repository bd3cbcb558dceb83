// Package account keeps the device signed in to a HEOS account while
// avoiding the slow sign-in call when it is not needed.
package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/edumarques81/heos-control/internal/infra/heos"
	"github.com/rs/zerolog/log"
)

const (
	checkCommand  = "system/check_account"
	signInCommand = "system/sign_in"

	signedInFlag  = "signed_in"
	signedOutFlag = "signed_out"
	userKey       = "un"
)

// State is the cached sign-in state for one connection.
type State struct {
	SignedIn bool   `json:"signed_in"`
	User     string `json:"user,omitempty"`
}

// Manager checks and establishes the account sign-in.
type Manager struct {
	mu    sync.Mutex
	conn  heos.Requester
	state State
}

// NewManager returns a manager with an empty state.
func NewManager(conn heos.Requester) *Manager {
	return &Manager{conn: conn}
}

// State returns the last known state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Check asks the device which account, if any, is signed in.
func (m *Manager) Check(ctx context.Context) (State, error) {
	resp, err := m.conn.Request(ctx, checkCommand, true)
	if err != nil {
		return State{}, fmt.Errorf("check account: %w", err)
	}

	st := stateFromMessage(resp.Message)
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return st, nil
}

// EnsureSignedIn returns true without further requests when the device is
// already signed in as user. Otherwise it signs in with user and password.
// A device refusal is returned as *heos.CommandError together with false.
func (m *Manager) EnsureSignedIn(ctx context.Context, user, password string) (bool, error) {
	st, err := m.Check(ctx)
	if err != nil {
		return false, err
	}

	if st.SignedIn {
		if st.User == user {
			log.Info().Str("user", st.User).Msg("Already signed in")
			return true, nil
		}
		log.Info().Str("signed_in_as", st.User).Str("user", user).Msg("Signed in as a different user")
	}

	if user == "" {
		log.Debug().Msg("No account configured, skipping sign in")
		return false, nil
	}

	log.Info().Str("user", user).Msg("Signing in")
	cmd := fmt.Sprintf("%s?un=%s&pw=%s", signInCommand, heos.EscapeValue(user), heos.EscapeValue(password))
	resp, err := m.conn.Request(ctx, cmd, true)
	if err != nil {
		return false, fmt.Errorf("sign in: %w", err)
	}

	signed := stateFromMessage(resp.Message)
	if !signed.SignedIn {
		signed = State{SignedIn: true, User: user}
	}
	m.mu.Lock()
	m.state = signed
	m.mu.Unlock()

	log.Info().Str("user", signed.User).Msg("Signed in")
	return true, nil
}

func stateFromMessage(msg heos.Message) State {
	if !msg.Has(signedInFlag) || msg.Has(signedOutFlag) {
		return State{}
	}
	user, _ := msg.Get(userKey)
	return State{SignedIn: true, User: user}
}
