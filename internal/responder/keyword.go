// Package responder produces canned assistant replies from keyword matches.
package responder

import (
	"fmt"
	"strings"
	"time"
)

// Rule maps any of its keywords to a reply. Keywords match as
// case-insensitive substrings of the input.
type Rule struct {
	Name     string
	Keywords []string
	Reply    func(now time.Time) string
}

// Keyword answers with the reply of the first matching rule, or Fallback.
type Keyword struct {
	Rules    []Rule
	Fallback string
	Now      func() time.Time
	Location *time.Location
}

func fixed(s string) func(time.Time) string {
	return func(time.Time) string { return s }
}

// DefaultRules are checked in order; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "greeting", Keywords: []string{"hello", "hi"},
			Reply: fixed("Hello! I'm here to assist you. What would you like me to help you with?")},
		{Name: "time", Keywords: []string{"time"},
			Reply: func(now time.Time) string { return fmt.Sprintf("The current time is %s.", now.Format("3:04:05 PM")) }},
		{Name: "date", Keywords: []string{"date"},
			Reply: func(now time.Time) string { return fmt.Sprintf("Today is %s.", now.Format("Monday, January 2, 2006")) }},
		{Name: "weather", Keywords: []string{"weather"},
			Reply: fixed("I don't have a weather source connected yet, so I can't give you a live forecast.")},
		{Name: "music", Keywords: []string{"music", "spotify"},
			Reply: fixed("I can control Spotify for you. Connect your account from the music panel, then ask me to play, pause, skip or go back.")},
		{Name: "reminder", Keywords: []string{"reminder", "alarm"},
			Reply: fixed("I can't keep reminders between sessions yet, but I'm happy to note it for this conversation.")},
		{Name: "messaging", Keywords: []string{"whatsapp", "message"},
			Reply: fixed("Sending messages needs a messaging provider to be connected first.")},
	}
}

const defaultFallback = "I'm still learning! I can help with basic commands and conversation, and with controlling your music."

// New returns a Keyword responder with the default rules.
func New() *Keyword {
	return &Keyword{Rules: DefaultRules(), Fallback: defaultFallback, Now: time.Now}
}

// Respond returns the reply for text. It depends only on text and the clock.
func (k *Keyword) Respond(text string) string {
	r, ok := k.match(text)
	if !ok {
		if k.Fallback == "" {
			return defaultFallback
		}
		return k.Fallback
	}
	now := time.Now()
	if k.Now != nil {
		now = k.Now()
	}
	if k.Location != nil {
		now = now.In(k.Location)
	}
	return r.Reply(now)
}

// Match returns the name of the rule text would trigger, or "" for the fallback.
func (k *Keyword) Match(text string) string {
	r, _ := k.match(text)
	return r.Name
}

func (k *Keyword) match(text string) (Rule, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, r := range k.Rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// Greeting opens every conversation.
const Greeting = "Good evening. I am Jarvis, your personal AI assistant. How may I assist you today?"
