package session

import (
	"encoding/json"
	"fmt"
	"time"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
)

// LoginFunc receives the token issued by a successful login
type LoginFunc func(jwt string, err error)

// TokenValidity is the result of CheckToken
type TokenValidity struct {
	Valid     bool   `json:"valid"`
	State     string `json:"state,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// LoginAttempt is the Data of a loginAttempt event
type LoginAttempt struct {
	Success bool
	Err     error
}

// JWT returns the token attached to outgoing requests
func (s *Session) JWT() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jwt
}

// SetJWT sets the token attached to outgoing requests. A non-empty token
// fires a successful loginAttempt event.
func (s *Session) SetJWT(token string) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	s.mu.Lock()
	s.jwt = token
	s.mu.Unlock()

	if token != "" {
		s.events.Emit(events.Event{Kind: events.LoginAttempt, Data: LoginAttempt{Success: true}})
	}
	return nil
}

// UnsetJWT removes the token
func (s *Session) UnsetJWT() {
	s.mu.Lock()
	s.jwt = ""
	s.mu.Unlock()
}

// expireToken drops the token and notifies jwtTokenExpired listeners
func (s *Session) expireToken(cause error) {
	s.UnsetJWT()
	s.logger.Info().Msg("authentication token expired")
	s.events.Emit(events.Event{Kind: events.JWTTokenExpired, Err: cause})
}

// Login authenticates with strategy. The credentials are kept so the
// session logs in again on every connection. Never queued.
func (s *Session) Login(strategy string, credentials map[string]interface{}, expiresIn time.Duration, cb LoginFunc) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	if strategy == "" {
		return fmt.Errorf("login: strategy is required")
	}
	fields := map[string]interface{}{"strategy": strategy}
	if expiresIn > 0 {
		fields["expiresIn"] = expiresIn.Milliseconds()
	}
	opts := &QueryOptions{Queuable: Bool(false)}
	args := QueryArgs{Controller: "auth", Action: "login"}

	return s.send(args, credentials, opts, fields, func(result json.RawMessage, err error) {
		var token string
		if err == nil {
			var res struct {
				JWT string `json:"jwt"`
			}
			if uerr := json.Unmarshal(result, &res); uerr != nil {
				err = fmt.Errorf("failed to parse login result: %w", uerr)
			} else if res.JWT == "" {
				err = fmt.Errorf("login result: missing jwt: %w", protocol.ErrMalformed)
			}
			token = res.JWT
		}

		if err != nil {
			s.logger.Warn().Err(err).Str("strategy", strategy).Msg("login failed")
			s.events.Emit(events.Event{
				Kind: events.LoginAttempt,
				Err:  err,
				Data: LoginAttempt{Success: false, Err: err},
			})
			if cb != nil {
				cb("", err)
			}
			return
		}

		s.mu.Lock()
		s.credentials = &loginCredentials{
			strategy:    strategy,
			credentials: copyMap(credentials),
			expiresIn:   expiresIn,
		}
		s.mu.Unlock()
		if serr := s.SetJWT(token); serr != nil {
			if cb != nil {
				cb("", serr)
			}
			return
		}
		if cb != nil {
			cb(token, nil)
		}
	})
}

func (s *Session) relogin(c *loginCredentials) {
	err := s.Login(c.strategy, c.credentials, c.expiresIn, func(_ string, err error) {
		if err != nil {
			s.logger.Warn().Err(err).Str("strategy", c.strategy).Msg("relogin failed")
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("relogin not sent")
	}
}

// Logout revokes the current token and forgets stored credentials
func (s *Session) Logout(cb ResponseFunc) error {
	args := QueryArgs{Controller: "auth", Action: "logout"}
	err := s.send(args, nil, &QueryOptions{Queuable: Bool(false)}, nil, cb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jwt = ""
	s.credentials = nil
	s.mu.Unlock()
	return nil
}

// CheckToken asks the server whether token is valid. The session token is
// never attached to this request.
func (s *Session) CheckToken(token string, cb func(v *TokenValidity, err error)) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("checkToken: token is required")
	}
	args := QueryArgs{Controller: "auth", Action: "checkToken"}
	body := map[string]string{"token": token}

	return s.send(args, body, &QueryOptions{Queuable: Bool(false)}, nil, func(result json.RawMessage, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(nil, err)
			return
		}
		var v TokenValidity
		if uerr := json.Unmarshal(result, &v); uerr != nil {
			cb(nil, fmt.Errorf("failed to parse checkToken result: %w", uerr))
			return
		}
		cb(&v, nil)
	})
}

// Now returns the server time in epoch milliseconds
func (s *Session) Now(cb func(ms int64, err error)) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	if cb == nil {
		return ErrCallbackRequired
	}
	args := QueryArgs{Controller: "server", Action: "now"}
	return s.send(args, nil, nil, nil, func(result json.RawMessage, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		var res struct {
			Now int64 `json:"now"`
		}
		if uerr := json.Unmarshal(result, &res); uerr != nil {
			cb(0, fmt.Errorf("failed to parse now result: %w", uerr))
			return
		}
		cb(res.Now, nil)
	})
}

// GetServerInfo returns the raw server information document
func (s *Session) GetServerInfo(cb ResponseFunc) error {
	return s.send(QueryArgs{Controller: "server", Action: "info"}, nil, nil, nil, cb)
}
