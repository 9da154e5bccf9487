package pii

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Email detection
// ---------------------------------------------------------------------------

func TestMask_Email(t *testing.T) {
	m := NewMasker()
	out := m.Mask("Contact me at user@example.com please")
	if strings.Contains(out, "user@example.com") {
		t.Error("expected email to be masked")
	}
	if !strings.Contains(out, "[EMAIL_1]") {
		t.Errorf("expected [EMAIL_1] token, got: %s", out)
	}
}

func TestMask_MultipleEmailsGetDistinctIndices(t *testing.T) {
	m := NewMasker()
	out := m.Mask("alice@test.com and bob@test.com")
	if out != "[EMAIL_1] and [EMAIL_2]" {
		t.Errorf("unexpected output: %s", out)
	}
}

// ---------------------------------------------------------------------------
// Phone detection (Japanese domestic formats)
// ---------------------------------------------------------------------------

func TestMask_PhoneFormats(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"mobile hyphenated", "電話は090-1234-5678まで"},
		{"landline hyphenated", "03-1234-5678に電話"},
		{"no separators mobile", "09012345678です"},
		{"no separators landline", "0312345678です"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMasker()
			out := m.Mask(tt.input)
			if !strings.Contains(out, "[PHONE_1]") {
				t.Errorf("expected [PHONE_1] in output, got: %s", out)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Name detection and stopword gating
// ---------------------------------------------------------------------------

func TestMask_KanjiName(t *testing.T) {
	m := NewMasker()
	out := m.Mask("山田太郎が参加します")
	if strings.Contains(out, "山田太郎") {
		t.Errorf("expected kanji name to be masked, got: %s", out)
	}
	if !strings.Contains(out, "[NAME_1]") {
		t.Errorf("expected [NAME_1] token, got: %s", out)
	}
	// The stopword 参加 must survive.
	if !strings.Contains(out, "参加") {
		t.Errorf("expected stopword 参加 to be untouched, got: %s", out)
	}
}

func TestMask_KatakanaName(t *testing.T) {
	m := NewMasker()
	out := m.Mask("ヤマダタロウ様")
	if !strings.Contains(out, "[NAME_1]") {
		t.Errorf("expected katakana name to be masked, got: %s", out)
	}
}

func TestMask_StopwordsOnlyTextUnchanged(t *testing.T) {
	m := NewMasker()
	in := "イベントの受付はセミナー会場で確認"
	if out := m.Mask(in); out != in {
		t.Errorf("stopword-only text changed: %s", out)
	}
	if len(m.Entries()) != 0 {
		t.Errorf("expected no entries, got %d", len(m.Entries()))
	}
}

func TestMask_ExtraStopwords(t *testing.T) {
	m := NewMasker("田中商事")
	in := "田中商事より連絡"
	if out := m.Mask(in); out != in {
		t.Errorf("extra stopword was masked: %s", out)
	}
}

func TestMask_KanjiRunLengthBounds(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		masked bool
	}{
		{"single kanji untouched", "木です", false},
		{"two kanji masked", "木村です", true},
		{"six kanji masked", "勅使河原乃亜です", true},
		{"seven kanji untouched", "一二三四五六七です", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMasker()
			out := m.Mask(tt.input)
			got := strings.Contains(out, "[NAME_1]")
			if got != tt.masked {
				t.Errorf("Mask(%q) = %q, masked=%v, want masked=%v", tt.input, out, got, tt.masked)
			}
		})
	}
}

func TestMask_ShortKatakanaUntouched(t *testing.T) {
	m := NewMasker()
	in := "アベさん" // two katakana, below the 3-rune floor
	if out := m.Mask(in); out != in {
		t.Errorf("short katakana run was masked: %s", out)
	}
}

// ---------------------------------------------------------------------------
// Session properties
// ---------------------------------------------------------------------------

func TestMask_IdempotentWithinSession(t *testing.T) {
	m := NewMasker()
	first := m.Mask("yamada@example.com")
	second := m.Mask("yamada@example.com")
	if first != second {
		t.Errorf("same original produced different tokens: %q vs %q", first, second)
	}
	if len(m.Entries()) != 1 {
		t.Errorf("expected a single entry, got %d", len(m.Entries()))
	}
}

func TestMask_SequentialIndicesPerCategory(t *testing.T) {
	m := NewMasker()
	m.Mask("a@x.com then b@x.com then 090-1111-2222")
	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Masked != "[EMAIL_1]" || entries[1].Masked != "[EMAIL_2]" {
		t.Errorf("email indices not sequential: %+v", entries)
	}
	if entries[2].Masked != "[PHONE_1]" {
		t.Errorf("phone counter did not start at 1: %+v", entries)
	}
}

func TestUnmask_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"email only", "連絡先: suzuki@example.co.jp"},
		{"phone only", "TEL 03-1234-5678"},
		{"kanji name", "佐藤花子が登録しました"},
		{"katakana name", "サトウハナコ様が参加"},
		{"mixed", "田中一郎（tanaka@example.com / 080-9876-5432）とスズキイチロウ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMasker()
			masked := m.Mask(tt.input)
			if got := m.Unmask(masked); got != tt.input {
				t.Errorf("round trip failed:\n  in:     %q\n  masked: %q\n  out:    %q", tt.input, masked, got)
			}
		})
	}
}

func TestUnmask_ReplacesAllOccurrences(t *testing.T) {
	m := NewMasker()
	masked := m.Mask("a@x.com")
	doubled := masked + " and again " + masked
	out := m.Unmask(doubled)
	if strings.Count(out, "a@x.com") != 2 {
		t.Errorf("expected both occurrences restored, got: %s", out)
	}
}

func TestUnmask_TwoDigitIndexNotClippedBySingleDigit(t *testing.T) {
	m := NewMasker()
	var b strings.Builder
	// Force twelve NAME entries so that [NAME_12] exists alongside [NAME_1].
	names := []string{
		"青木一", "伊藤二", "上田三", "江口四", "大野五", "加藤六",
		"木下七", "久保八", "小林九", "斎藤十", "柴田拾", "杉山另",
	}
	for _, n := range names {
		b.WriteString(n)
		b.WriteString("、")
	}
	in := b.String()
	masked := m.Mask(in)
	if !strings.Contains(masked, "[NAME_12]") {
		t.Fatalf("expected [NAME_12] in masked output, got: %s", masked)
	}
	if got := m.Unmask(masked); got != in {
		t.Errorf("round trip with two-digit indices failed: %q", got)
	}
}

func TestClear_ResetsCountersAndMaps(t *testing.T) {
	m := NewMasker()
	m.Mask("a@x.com")
	m.Clear()
	if len(m.Entries()) != 0 {
		t.Fatal("entries survived Clear")
	}
	out := m.Mask("b@y.com")
	if out != "[EMAIL_1]" {
		t.Errorf("counter did not reset to 1, got: %s", out)
	}
}

// ---------------------------------------------------------------------------
// Composite scenario
// ---------------------------------------------------------------------------

func TestMask_CompositeScenario(t *testing.T) {
	m := NewMasker()
	in := "山田太郎（yamada@example.com, 090-1234-5678）"
	masked := m.Mask(in)
	want := "[NAME_1]（[EMAIL_1], [PHONE_1]）"
	if masked != want {
		t.Errorf("Mask(%q) = %q, want %q", in, masked, want)
	}
	if got := m.Unmask(masked); got != in {
		t.Errorf("Unmask round trip = %q, want %q", got, in)
	}
}

func TestMask_NameInsideLongerRunStaysUntouched(t *testing.T) {
	// 山田 standing alone is masked, but the same two characters at the
	// head of a nine-kanji company run must not be rewritten: the run
	// exceeds the heuristic's length bound and was never accepted.
	m := NewMasker()
	in := "山田より連絡。山田製作所第一工場はそのまま"
	masked := m.Mask(in)
	want := "[NAME_1]より連絡。山田製作所第一工場はそのまま"
	if masked != want {
		t.Errorf("Mask(%q) = %q, want %q", in, masked, want)
	}
	if got := m.Unmask(masked); got != in {
		t.Errorf("Unmask round trip = %q, want %q", got, in)
	}
}

func TestFindRuns_RuneCounting(t *testing.T) {
	text := "山田太郎と鈴木"
	runs := findKanjiRuns(text)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", runs)
	}
	first := text[runs[0].start:runs[0].end]
	second := text[runs[1].start:runs[1].end]
	if runeLen(first) != 4 || runeLen(second) != 2 {
		t.Errorf("unexpected runs: %q, %q", first, second)
	}
}
