package pipeline

import "fmt"

// Capsules are hard-capped in words so the generated text stays a capsule,
// not an essay.
const maxCapsuleWords = 400

func capsulePrompt(transcript string) string {
	return fmt.Sprintf(`Turn the following idea or transcript into a concise,
high-insight capsule of approximately %d words.
The capsule should capture the essence and deeper implications of the thought.
Avoid conversational openings or closings; focus on delivering the core insight directly.

Transcript:
"""
%s
"""

Insight Capsule:`, maxCapsuleWords, transcript)
}
