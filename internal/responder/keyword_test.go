package responder

import (
	"strings"
	"testing"
	"time"
)

func TestKeyword_RuleOrderAndFallback(t *testing.T) {
	k := New()
	cases := []struct{ in, want string }{
		{"Hello there", "greeting"},
		{"HI", "greeting"},
		{"what TIME is it", "time"},
		{"today's date please", "date"},
		{"weather tomorrow?", "weather"},
		{"open spotify", "music"},
		{"set an alarm", "reminder"},
		{"send a whatsapp", "messaging"},
		{"Hello, what time is it", "greeting"},
		{"open the pod bay doors", ""},
	}
	for _, tc := range cases {
		if got := k.Match(tc.in); got != tc.want {
			t.Fatalf("Match(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := k.Respond("xyz"); got != defaultFallback {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestKeyword_ClockDrivenReplies(t *testing.T) {
	now := time.Date(2024, time.July, 4, 15, 4, 5, 0, time.UTC)
	k := New()
	k.Now = func() time.Time { return now }

	if got := k.Respond("what time is it"); got != "The current time is 3:04:05 PM." {
		t.Fatalf("unexpected time reply %q", got)
	}
	if got := k.Respond("date"); got != "Today is Thursday, July 4, 2024." {
		t.Fatalf("unexpected date reply %q", got)
	}
	if a, b := k.Respond("date"), k.Respond("  DATE "); a != b {
		t.Fatalf("reply should depend only on trimmed, case-folded text: %q vs %q", a, b)
	}
}

func TestKeyword_GreetingReply(t *testing.T) {
	if got := New().Respond("Hello"); !strings.HasPrefix(got, "Hello!") {
		t.Fatalf("unexpected greeting %q", got)
	}
}

func TestKeyword_RespondFollowsMatch(t *testing.T) {
	k := &Keyword{
		Rules: []Rule{
			{Name: "first", Keywords: []string{"", "lights"}, Reply: fixed("first")},
			{Name: "second", Keywords: []string{"lights", "music"}, Reply: fixed("second")},
		},
		Fallback: "nothing",
	}
	for _, in := range []string{"Turn the LIGHTS on", "play music", "open the door", "   "} {
		name, reply := k.Match(in), k.Respond(in)
		switch {
		case name == "" && reply != "nothing":
			t.Fatalf("Respond(%q) = %q, want fallback", in, reply)
		case name != "" && reply != name:
			t.Fatalf("Respond(%q) = %q, but Match picked %q", in, reply, name)
		}
	}
	if got := k.Match("Turn the lights on"); got != "first" {
		t.Fatalf("expected first rule to win, got %q", got)
	}
}
