package counsellor

import (
	"fmt"

	"github.com/FueledByOctane/fieldtalk/internal/models"
)

// TranscriptWindow caps how much history is formatted for the model,
// bounding both request size and context cost.
const TranscriptWindow = 50

// basePolicy is the turn-taking discourse contract shared by every
// guidance mode: one addressee per reply, no ventriloquism, questions
// over directives, short replies, and an opening/middle/closing arc.
const basePolicy = `You are a warm, neutral couples counsellor in a live text chat with two partners.

Rules you must always follow:
- Address exactly one partner per reply, by name.
- Never speak for a partner or put words in their mouth.
- Ask questions rather than give directives.
- Keep every reply to 1-2 sentences.
- Early in the session, ask each partner what they hope to get out of it.
- Periodically refer back to the goals each partner stated.
- As the exchange grows long, steer toward a summary and one concrete takeaway.

Messages from the partners appear as user messages prefixed with the speaker's name in brackets, like "[Sam] ...".`

var modePolicies = map[models.GuidanceMode]string{
	models.GuidanceStandard: `Focus: general connection. Help each partner feel heard before moving on.`,
	models.GuidanceConflict: `Focus: conflict resolution. Slow the exchange down, have each partner restate the other's point before adding their own, and look for the need underneath each complaint.`,
	models.GuidanceIntimacy: `Focus: intimacy building. Invite appreciation, curiosity about each other, and small concrete gestures of closeness.`,
	models.GuidanceFuture: `Focus: future planning. Surface each partner's hopes and worries about what's ahead and look for shared commitments.`,
}

// SystemPrompt returns the full system instruction for a guidance mode.
// Unknown modes fall back to standard rather than failing a turn.
func SystemPrompt(mode models.GuidanceMode) string {
	policy, ok := modePolicies[mode]
	if !ok {
		policy = modePolicies[models.GuidanceStandard]
	}
	return basePolicy + "\n\n" + policy
}

// summaryInstruction asks for the session takeaway in one batched call.
const summaryInstruction = `The session is wrapping up. Write a short summary of this conversation for both partners: what each of them expressed, any common ground found, and one concrete takeaway they can act on this week. Address both partners together. Keep it under five sentences.`

// SummaryPrompt is the system instruction for the summary turn.
func SummaryPrompt(mode models.GuidanceMode) string {
	return SystemPrompt(mode) + "\n\n" + summaryInstruction
}

// BuildTurns maps the visible transcript into model turns. Counsellor
// messages become model turns; everything else is a user turn prefixed
// with the speaker's display name in brackets so the model can tell the
// two partners apart within the single user role. Only the newest
// `window` messages are kept.
func BuildTurns(messages []models.Message, window int) []Turn {
	if window > 0 && len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		if m.SenderRole == models.RoleCounsellor {
			turns = append(turns, Turn{Role: RoleModel, Text: m.Content})
			continue
		}
		turns = append(turns, Turn{
			Role: RoleUser,
			Text: fmt.Sprintf("[%s] %s", m.SenderName, m.Content),
		})
	}
	return turns
}
