package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"

	"rtclient/internal/protocol"
)

func TestPrintNotification_UserEvent(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer

	n := &protocol.Notification{Type: "user", Action: protocol.ActionOn, User: "in", Result: json.RawMessage(`{"count":4}`)}
	printNotification(&out, &errOut, n)

	if !strings.Contains(out.String(), "count=4") {
		t.Errorf("output = %q, want count=4", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected error output %q", errOut.String())
	}
}

func TestPrintNotification_MalformedUserEvent(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer

	n := &protocol.Notification{Type: "user", Action: protocol.ActionOff, Result: json.RawMessage(`"gone"`)}
	printNotification(&out, &errOut, n)

	if out.Len() != 0 {
		t.Errorf("malformed event printed as %q", out.String())
	}
	if !strings.Contains(errOut.String(), "malformed user event") {
		t.Errorf("error output = %q", errOut.String())
	}
}

func TestPrintNotification_Document(t *testing.T) {
	color.NoColor = true
	var out, errOut bytes.Buffer

	n := &protocol.Notification{Type: "document", Action: "create", Scope: "in", Result: json.RawMessage(`{"_id":"doc-1","_source":{"a":1}}`)}
	printNotification(&out, &errOut, n)

	if got := out.String(); !strings.Contains(got, "id=doc-1") || !strings.Contains(got, `{"a":1}`) {
		t.Errorf("output = %q", got)
	}
}
