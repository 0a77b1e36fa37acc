package sessions

import (
	"regexp"
	"testing"
)

func TestBuildParseRoundtrip(t *testing.T) {
	scopes := []Scope{
		MainScope(),
		UserScope("386246614"),
		ChannelScope("100123", "200456"),
		ThreadScope("100123", "300789"),
		SubagentScope("b3f2a1"),
	}
	for _, scope := range scopes {
		key := BuildKey("deca", scope)
		agentID, parsed, ok := ParseKey(key)
		if !ok {
			t.Errorf("ParseKey(%q) failed", key)
			continue
		}
		if agentID != "deca" {
			t.Errorf("agent id = %q", agentID)
		}
		if parsed.String() != scope.String() {
			t.Errorf("scope roundtrip: %q != %q", parsed.String(), scope.String())
		}
	}
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"agent:deca",
		"deca:main",
		"agent:deca:bogus",
		"agent:deca:user",
		"agent:deca:channel:only-guild",
		"agent:deca:main:extra",
	}
	for _, key := range bad {
		if _, _, ok := ParseKey(key); ok {
			t.Errorf("ParseKey(%q) accepted", key)
		}
	}
}

func TestNormalizeAgentID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Deca", "deca"},
		{"  My Agent  ", "my-agent"},
		{"ops_2", "ops_2"},
		{"--x--", "x"},
		{"", "main"},
		{"!!!", "main"},
	}
	for _, tc := range cases {
		if got := NormalizeAgentID(tc.in); got != tc.want {
			t.Errorf("NormalizeAgentID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	inputs := []string{"Deca", "weird name!", "UPPER_case-9", "", "a b c d"}
	for _, in := range inputs {
		once := NormalizeAgentID(in)
		if NormalizeAgentID(once) != once {
			t.Errorf("not idempotent for %q: %q", in, once)
		}
		if !valid.MatchString(once) {
			t.Errorf("normalized %q = %q outside charset", in, once)
		}
	}
}

func TestIsSubagentKey(t *testing.T) {
	if !IsSubagentKey("agent:deca:subagent:b3f2a1") {
		t.Error("subagent key not detected")
	}
	if IsSubagentKey("agent:deca:main") || IsSubagentKey("garbage") {
		t.Error("false positive")
	}
}
