package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
)

func TestAuth_LoginStoresToken(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	respond(ft)

	var attempts []LoginAttempt
	s.AddListener(events.LoginAttempt, func(ev events.Event) {
		attempts = append(attempts, ev.Data.(LoginAttempt))
	})

	var token string
	err := s.Login("local", map[string]interface{}{"username": "u", "password": "p"}, time.Hour, func(jwt string, err error) {
		if err != nil {
			t.Errorf("login err = %v", err)
		}
		token = jwt
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token != "token-from-login" || s.JWT() != token {
		t.Errorf("token = %q, session jwt = %q", token, s.JWT())
	}
	if len(attempts) != 1 || !attempts[0].Success {
		t.Errorf("login attempts = %+v", attempts)
	}

	req := ft.Last("auth", "login")
	if v, _ := req.Get("strategy"); v != "local" {
		t.Errorf("strategy = %v", v)
	}
	if v, _ := req.Get("expiresIn"); v != float64(time.Hour.Milliseconds()) {
		t.Errorf("expiresIn = %v", v)
	}
	if string(req.Body) != `{"password":"p","username":"u"}` {
		t.Errorf("body = %s", req.Body)
	}
}

func TestAuth_LoginFailure(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	ft.OnRequest(func(req *protocol.Request) {
		ft.RespondError(req.RequestID, &protocol.Error{Status: 401, Message: "wrong credentials"})
	})

	var attempt LoginAttempt
	s.AddListener(events.LoginAttempt, func(ev events.Event) { attempt = ev.Data.(LoginAttempt) })

	var gotErr error
	s.Login("local", nil, 0, func(_ string, err error) { gotErr = err })

	if gotErr == nil {
		t.Error("callback did not receive the error")
	}
	if attempt.Success || attempt.Err == nil {
		t.Errorf("attempt = %+v", attempt)
	}
	if s.JWT() != "" {
		t.Error("token set after a failed login")
	}
}

func TestAuth_LoginNotQueued(t *testing.T) {
	opts := testOptions()
	opts.AutoQueue = true
	s, _ := offlineSession(t, opts)

	s.Login("local", nil, 0, nil)
	if s.QueueLen() != 0 {
		t.Errorf("queue len = %d, login must not be queued", s.QueueLen())
	}
}

func TestAuth_LoginRequiresStrategy(t *testing.T) {
	s, _ := connectedSession(t, testOptions())
	if err := s.Login("", nil, 0, nil); err == nil {
		t.Error("expected error without strategy")
	}
}

func TestAuth_ReloginOnConnect(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	respond(ft)

	s.Login("local", map[string]interface{}{"username": "u"}, 0, nil)
	ft.FireDisconnect()

	if err := s.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ft.FireConnect()

	logins := ft.Find("auth", "login")
	if len(logins) != 2 {
		t.Fatalf("login requests = %d, want 2", len(logins))
	}
	if string(logins[1].Body) != `{"username":"u"}` {
		t.Errorf("relogin body = %s", logins[1].Body)
	}
}

func TestAuth_LogoutForgetsCredentials(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	respond(ft)

	s.Login("local", nil, 0, nil)
	if err := s.Logout(nil); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.JWT() != "" {
		t.Error("jwt kept after logout")
	}

	ft.FireDisconnect()
	s.Connect(context.Background(), nil)
	ft.FireConnect()
	if n := len(ft.Find("auth", "login")); n != 1 {
		t.Errorf("login requests = %d, want 1 after logout", n)
	}
}

func TestAuth_ReconnectChecksToken(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	srv := respond(ft)
	s.SetJWT("held")

	reconnected := 0
	s.AddListener(events.Reconnected, func(events.Event) { reconnected++ })

	ft.FireDisconnect()
	ft.FireReconnect()

	check := ft.Last("auth", "checkToken")
	if check == nil {
		t.Fatal("token not checked on reconnect")
	}
	if string(check.Body) != `{"token":"held"}` {
		t.Errorf("checkToken body = %s", check.Body)
	}
	if s.JWT() != "held" {
		t.Errorf("valid token dropped: %q", s.JWT())
	}
	if reconnected != 1 {
		t.Errorf("reconnected events = %d, want 1", reconnected)
	}

	srv.valid = false
	expired := 0
	s.AddListener(events.JWTTokenExpired, func(events.Event) { expired++ })

	ft.FireDisconnect()
	ft.FireReconnect()

	if s.JWT() != "" {
		t.Errorf("invalid token kept: %q", s.JWT())
	}
	if expired != 1 {
		t.Errorf("expired events = %d, want 1", expired)
	}
	if reconnected != 2 {
		t.Errorf("reconnected events = %d, want 2", reconnected)
	}
}

func TestAuth_ReconnectWithoutTokenSkipsCheck(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	respond(ft)
	ft.FireDisconnect()
	ft.FireReconnect()

	if ft.Last("auth", "checkToken") != nil {
		t.Error("checkToken sent without a token")
	}
	if s.State() != StateConnected {
		t.Errorf("state = %s", s.State())
	}
}

func TestAuth_CheckToken(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	ft.OnRequest(func(req *protocol.Request) {
		ft.Respond(req.RequestID, map[string]interface{}{"valid": true, "expiresAt": 1700000000000})
	})

	var v *TokenValidity
	if err := s.CheckToken("t", func(tv *TokenValidity, err error) { v = tv }); err != nil {
		t.Fatalf("CheckToken: %v", err)
	}
	if v == nil || !v.Valid || v.ExpiresAt != 1700000000000 {
		t.Errorf("validity = %+v", v)
	}
	if err := s.CheckToken("", nil); err == nil {
		t.Error("expected error for an empty token")
	}
}

func TestAuth_DisconnectedSessionRejectsBeforeArguments(t *testing.T) {
	s, _ := connectedSession(t, testOptions())
	s.Disconnect()
	if err := s.Login("", nil, 0, nil); !errors.Is(err, ErrInvalidated) {
		t.Errorf("Login err = %v, want ErrInvalidated", err)
	}
	if err := s.CheckToken("", nil); !errors.Is(err, ErrInvalidated) {
		t.Errorf("CheckToken err = %v, want ErrInvalidated", err)
	}
	if err := s.Now(nil); !errors.Is(err, ErrInvalidated) {
		t.Errorf("Now err = %v, want ErrInvalidated", err)
	}
}

func TestAuth_SetJWTAfterDisconnect(t *testing.T) {
	s, _ := connectedSession(t, testOptions())
	s.Disconnect()
	if err := s.SetJWT("t"); !errors.Is(err, ErrInvalidated) {
		t.Errorf("err = %v, want ErrInvalidated", err)
	}
}
