package agent

import (
	"strings"
	"unicode"
)

// phraseTable is a category of messages that never need actions.
type phraseTable struct {
	category string
	phrases  []string
}

// conversationalPhrases are matched against the whole normalized message.
var conversationalPhrases = []phraseTable{
	{"greeting", []string{
		"hi", "hello", "hey", "hiya", "howdy", "yo", "greetings",
		"good morning", "good afternoon", "good evening",
		"hi there", "hello there", "hey there",
	}},
	{"small_talk", []string{
		"how are you", "how are you doing", "how's it going", "what's up", "whats up",
		"who are you", "what can you do", "what do you do",
	}},
	{"thanks", []string{
		"thanks", "thank you", "thanks a lot", "thank you so much", "thx", "ty", "cheers",
	}},
	{"acknowledgement", []string{
		"ok", "okay", "k", "cool", "great", "nice", "got it", "sounds good", "perfect", "awesome", "sure",
	}},
	{"farewell", []string{
		"bye", "goodbye", "see you", "see ya", "later", "good night", "have a nice day",
	}},
}

// toolKeywords mark a message as needing the full cycle, whatever its length.
var toolKeywords = []string{
	"find", "search", "look up", "lookup", "show me", "list",
	"job", "jobs", "role", "roles", "position", "opening", "hiring",
	"resume", "cv", "profile", "skill", "skills", "match", "recommend",
	"apply", "company", "companies", "salary", "remember", "recall",
	"earlier", "time", "date", "today",
}

// shortMessageWords is the length at or below which a message without tool
// keywords is answered directly.
const shortMessageWords = 3

// FastPath is the outcome of classifying a message.
type FastPath struct {
	Category string
	Matched  bool
}

// ClassifyFastPath decides whether message can skip ANALYZE, PLAN and ACT.
func ClassifyFastPath(message string) FastPath {
	norm := normalize(message)
	if norm == "" {
		return FastPath{Category: "empty", Matched: true}
	}

	for _, table := range conversationalPhrases {
		for _, phrase := range table.phrases {
			if norm == phrase {
				return FastPath{Category: table.category, Matched: true}
			}
		}
	}

	words := strings.Fields(norm)
	padded := " " + norm + " "
	for _, kw := range toolKeywords {
		if strings.Contains(padded, " "+kw+" ") {
			return FastPath{}
		}
	}
	if len(words) <= shortMessageWords {
		return FastPath{Category: "short", Matched: true}
	}
	return FastPath{}
}

// normalize lowercases, drops punctuation other than apostrophes and
// collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
