package counsellor

import (
	"context"
	"errors"
)

// ErrEmptyReply means the model call succeeded but produced no text.
var ErrEmptyReply = errors.New("counsellor: empty reply from model")

// Model roles on the provider wire. Human partners collapse into the
// user role; the speaker is carried in a bracketed name prefix instead.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one role-tagged entry of the formatted transcript.
type Turn struct {
	Role string
	Text string
}

// LLMClient is the language-model provider contract: one blocking
// completion and one streaming completion that reports deltas through a
// callback and still returns the accumulated full text. Both honor ctx
// cancellation; the turn engine's upstream timeout rides on it.
type LLMClient interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
	Stream(ctx context.Context, system string, turns []Turn, onDelta func(chunk string)) (string, error)
}
