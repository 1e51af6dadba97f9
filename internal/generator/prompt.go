package generator

import (
	"fmt"
	"strings"

	"socialpulse.app/autopilot/internal/model"
)

// Tone presets the operator can pick from. Unknown tones fall back to the
// neutral instruction so a config typo never breaks generation.
var toneInstructions = map[string]string{
	"friendly":     "Warm and approachable. Use casual language and react to what the commenter actually said.",
	"professional": "Polished and courteous. No slang, no emoji.",
	"witty":        "Playful and quick. A light joke is welcome when the comment invites one.",
	"enthusiastic": "High energy. Show genuine excitement about the commenter's engagement.",
}

const neutralTone = "Natural and conversational."

const systemPromptTemplate = `You write short replies to comments on a social media account, posting as the account owner.

Tone: %s

Rules:
- Reply in the commenter's language.
- Keep it under 2 sentences. This is a comment thread, not an essay.
- Never mention being automated or an AI.
- Do not use hashtags.
- If the comment is spam, abusive, or has nothing to respond to, return an empty reply instead of forcing one.`

func buildSystemPrompt(tone string) string {
	instruction, ok := toneInstructions[strings.ToLower(strings.TrimSpace(tone))]
	if !ok {
		instruction = neutralTone
	}
	return fmt.Sprintf(systemPromptTemplate, instruction)
}

func buildUserPrompt(req Request) string {
	var b strings.Builder

	if req.PostCaption != "" {
		fmt.Fprintf(&b, "Post caption: %q\n", req.PostCaption)
	}
	if req.PostType != "" {
		fmt.Fprintf(&b, "Post type: %s\n", describePostType(req.PostType))
	}
	if req.CommentBy != "" {
		fmt.Fprintf(&b, "Comment from @%s:\n", req.CommentBy)
	} else {
		b.WriteString("Comment:\n")
	}
	b.WriteString(req.CommentText)

	return b.String()
}

func describePostType(pt model.PostType) string {
	switch pt {
	case model.PostTypeVideo, model.PostTypeReel:
		return "video"
	case model.PostTypeCarousel:
		return "photo carousel"
	case model.PostTypeImage:
		return "photo"
	default:
		return strings.ToLower(string(pt))
	}
}
