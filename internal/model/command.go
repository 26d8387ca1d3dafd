package model

import (
	"fmt"
	"strings"
)

// CommandKind is the closed set of operations a relay accepts. Adding a new
// kind requires a new constant here and an explicit dispatcher case.
type CommandKind string

const (
	KindWake   CommandKind = "WAKE"
	KindStatus CommandKind = "STATUS"
	KindUsage  CommandKind = "USAGE"
)

// ParseKind normalizes and validates a command kind string.
func ParseKind(s string) (CommandKind, error) {
	switch k := CommandKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindWake, KindStatus, KindUsage:
		return k, nil
	default:
		return "", fmt.Errorf("unknown command kind %q", s)
	}
}

// Command is the plaintext carried inside an envelope. Created by the sender
// at issue time, consumed once by the relay, never persisted.
type Command struct {
	Kind         CommandKind       `json:"kind"`
	TargetSerial string            `json:"target_serial"`
	IssuedAt     int64             `json:"issued_at"` // UTC seconds since epoch
	Args         map[string]string `json:"args,omitempty"`
}

// Validate checks the structural fields only; target and freshness are
// enforced by the protocol layer against the receiver's identity and clock.
func (c *Command) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(c.TargetSerial) == "" {
		return fmt.Errorf("empty target serial")
	}
	if c.IssuedAt <= 0 {
		return fmt.Errorf("missing issued_at")
	}
	return nil
}
