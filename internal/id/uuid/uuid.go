// Package uuid generates browser session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

const sessionPrefix = "sess-"

// Generator creates time-ordered session ids. It satisfies session.IDGenerator.
type Generator struct {
	prefix string
}

// New creates a Generator that prefixes ids with "sess-".
func New() *Generator {
	return &Generator{prefix: sessionPrefix}
}

// NewID returns a prefixed UUID v7 so ids sort by launch time in logs.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return g.prefix + id.String(), nil
}

// Parse extracts the UUID from a session id produced by NewID.
func (g Generator) Parse(sessionID string) (uuid.UUID, error) {
	if len(sessionID) < len(g.prefix) || sessionID[:len(g.prefix)] != g.prefix {
		return uuid.Nil, fmt.Errorf("session id %q lacks prefix %q", sessionID, g.prefix)
	}
	id, err := uuid.Parse(sessionID[len(g.prefix):])
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session id: %w", err)
	}
	return id, nil
}
