package glob

import "testing"

func TestMatchStarCrossesSeparator(t *testing.T) {
	if !Match("*.log", "a/b.log") {
		t.Fatal("*.log should match a/b.log")
	}
}

func TestMatchStarWithLiteralPrefix(t *testing.T) {
	if !Match("foo/*.tmp", "foo/bar.tmp") {
		t.Fatal("foo/*.tmp should match foo/bar.tmp")
	}
}

func TestMatchStarRejectsWrongSuffix(t *testing.T) {
	if Match("*.tmp", "a.log") {
		t.Fatal("*.tmp should not match a.log")
	}
}

func TestMatchQuestionMarkSingleByte(t *testing.T) {
	if !Match("?", "a") {
		t.Fatal("? should match a")
	}
}

func TestMatchQuestionMarkRejectsTwoBytes(t *testing.T) {
	if Match("?", "ab") {
		t.Fatal("? should not match ab")
	}
}

func TestMatchEmptyPatternOnlyMatchesEmptyString(t *testing.T) {
	if !Match("", "") {
		t.Fatal("empty pattern should match empty string")
	}
	if Match("", "a") {
		t.Fatal("empty pattern should not match non-empty string")
	}
}

func TestMatchStarMatchesEmptySuffix(t *testing.T) {
	if !Match("a*", "a") {
		t.Fatal("a* should match a (star matches zero bytes)")
	}
}

func TestMatchMultipleStars(t *testing.T) {
	if !Match("*foo*bar*", "xxfooyybarzz") {
		t.Fatal("*foo*bar* should match xxfooyybarzz")
	}
}

func TestMatchAnyReturnsTrueOnFirstHit(t *testing.T) {
	patterns := []string{"*.log", "*.tmp"}
	if !MatchAny(patterns, "dir/file.tmp") {
		t.Fatal("MatchAny should match file.tmp against *.tmp")
	}
}

func TestMatchAnyFalseWhenNoneMatch(t *testing.T) {
	patterns := []string{"*.log", "*.tmp"}
	if MatchAny(patterns, "dir/file.go") {
		t.Fatal("MatchAny should not match file.go against any pattern")
	}
}
