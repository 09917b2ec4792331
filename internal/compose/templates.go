package compose

import (
	"strings"
	"unicode/utf8"

	"github.com/dgellow/xpost/internal/platform"
)

// Tone selects the voice of generated posts
type Tone string

const (
	ToneProfessional  Tone = "professional"
	ToneCasual        Tone = "casual"
	ToneWitty         Tone = "witty"
	ToneInspiring     Tone = "inspiring"
	ToneControversial Tone = "controversial"
	ToneInformative   Tone = "informative"
	ToneStorytelling  Tone = "storytelling"
	TonePromotional   Tone = "promotional"
)

// MaxTopicLength bounds the topic placed into fallback templates
const MaxTopicLength = 200

const topicPlaceholder = "{topic}"

var toneDescriptions = map[Tone]string{
	ToneProfessional:  "professional and polished, suitable for LinkedIn-style audiences",
	ToneCasual:        "casual and conversational, like talking to a friend",
	ToneWitty:         "witty and clever with a touch of humor",
	ToneInspiring:     "inspiring and motivational",
	ToneControversial: "bold and provocative, a hot take that sparks discussion",
	ToneInformative:   "informative and educational, sharing valuable insights",
	ToneStorytelling:  "narrative style, telling a mini story",
	TonePromotional:   "promotional but not salesy, highlighting value",
}

var templates = map[Tone][]string{
	ToneProfessional: {
		"Key insight on {topic}: The most successful approach focuses on sustainable value creation.",
		"{topic} is a topic worth exploring. Here's what the data tells us about best practices.",
		"After years in this space, here's my take on {topic}: execution beats perfection every time.",
	},
	ToneCasual: {
		"Been thinking about {topic} lately and honestly? It's wild how much potential there is here.",
		"{topic} hits different when you actually take time to understand it properly.",
		"Hot take: {topic} is way more interesting than people give it credit for.",
	},
	ToneWitty: {
		"{topic}: because apparently we needed another thing to have opinions about.",
		"Me explaining {topic} to my friends: \"Trust me bro, it makes sense.\"",
		"{topic} is basically that friend who's late to everything but somehow makes it work.",
	},
	ToneInspiring: {
		"{topic} reminds us that every big change starts with a single step forward.",
		"What excites me about {topic}: the possibility to create something meaningful.",
		"The future of {topic} is being written right now. Be part of it.",
	},
	ToneControversial: {
		"Unpopular opinion: most people are approaching {topic} completely wrong.",
		"{topic}: let's be honest about what's actually working and what's just hype.",
		"Hot take on {topic}: the conventional wisdom is holding everyone back.",
	},
	ToneInformative: {
		"Quick breakdown of {topic}: here's what you actually need to know.",
		"{topic} explained: the fundamentals matter more than the trends.",
		"Understanding {topic} starts with asking the right questions.",
	},
	ToneStorytelling: {
		"I remember when I first encountered {topic}. It changed how I think about everything.",
		"{topic}: a journey that started small but led somewhere unexpected.",
		"The story of {topic} is really a story about people and persistence.",
	},
	TonePromotional: {
		"Excited to share my thoughts on {topic}. This could be a game-changer.",
		"{topic} is where the opportunity is right now. Here's why it matters.",
		"If you're sleeping on {topic}, you might want to reconsider.",
	},
}

// ParseTone maps an arbitrary string to a known tone, defaulting to casual
func ParseTone(s string) Tone {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[t]; ok {
		return t
	}
	return ToneCasual
}

// Description returns the prompt wording for the tone
func (t Tone) Description() string {
	if d, ok := toneDescriptions[t]; ok {
		return d
	}
	return toneDescriptions[ToneCasual]
}

// Fallback fills the tone's templates with topic. The topic is cut so that
// every candidate fits in a single post.
func Fallback(topic string, tone Tone) []string {
	tmpls, ok := templates[tone]
	if !ok {
		tmpls = templates[ToneCasual]
	}

	limit := MaxTopicLength
	for _, tmpl := range tmpls {
		room := platform.MaxPostLength - (utf8.RuneCountInString(tmpl) - utf8.RuneCountInString(topicPlaceholder))
		limit = min(limit, room)
	}
	clean := truncateRunes(strings.TrimSpace(topic), limit)

	posts := make([]string, len(tmpls))
	for i, tmpl := range tmpls {
		posts[i] = strings.ReplaceAll(tmpl, topicPlaceholder, clean)
	}
	return posts
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
