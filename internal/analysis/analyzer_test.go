package analysis

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdock/clipdock/internal/models"
)

func TestAnalyzeCleanContent(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("My Family Vacation", "Fun times at the beach", "vacation.mp4")

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, models.VerdictSafe, result.Verdict)
	assert.Empty(t, result.CategoryBreakdown)
	assert.Empty(t, result.DetectedIssues)
	assert.Equal(t, []string{"Passed all content checks"}, result.Rules)
	assert.Equal(t, "Content passed all checks", result.Summary)
}

func TestAnalyzeFlaggedCategories(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("adult violence content", "", "x.mp4")

	assert.Equal(t, 84, result.Score)
	assert.Equal(t, models.VerdictFlagged, result.Verdict)

	require.Len(t, result.DetectedIssues, 2)
	assert.Equal(t, "explicit", result.DetectedIssues[0].Category)
	assert.Equal(t, 48, result.DetectedIssues[0].Score)
	assert.Equal(t, []string{"adult in title"}, result.DetectedIssues[0].Keywords)
	assert.Equal(t, "violence", result.DetectedIssues[1].Category)
	assert.Equal(t, 36, result.DetectedIssues[1].Score)
	assert.Equal(t, []string{"violence in title"}, result.DetectedIssues[1].Keywords)

	require.Contains(t, result.CategoryBreakdown, "explicit")
	require.Contains(t, result.CategoryBreakdown, "violence")
	assert.Equal(t, 48, result.CategoryBreakdown["explicit"].Score)
	assert.Equal(t, 36, result.CategoryBreakdown["violence"].Score)

	assert.Equal(t, []string{
		"Explicit Content detected (score: 48)",
		"Violence/Gore detected (score: 36)",
	}, result.Rules)
	assert.Equal(t, "Content flagged in 2 categories", result.Summary)
}

func TestAnalyzePatternRules(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		score       int
		verdict     string
		rules       []string
	}{
		{
			name:    "single special and digit runs below threshold",
			title:   "WOW !!!!! 123456 aaaaaa buy now",
			score:   15,
			verdict: models.VerdictSafe,
			rules:   []string{"Repeated characters detected (spam pattern)"},
		},
		{
			name:    "three special runs trigger",
			title:   "!!! @@@ ###",
			score:   12,
			verdict: models.VerdictSafe,
			rules:   []string{"Excessive special characters detected"},
		},
		{
			name:    "two digit runs trigger",
			title:   "12345 67890",
			score:   10,
			verdict: models.VerdictSafe,
			rules:   []string{"Excessive number sequences detected"},
		},
		{
			name:    "two special runs do not trigger",
			title:   "!!! @@@",
			score:   0,
			verdict: models.VerdictSafe,
			rules:   []string{"Passed all content checks"},
		},
		{
			name:        "long description",
			description: strings.Repeat("ab", 501),
			score:       8,
			verdict:     models.VerdictSafe,
			rules:       []string{"Unusually long description (potential spam)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(DefaultFlagThreshold)
			result := a.Analyze(tt.title, tt.description, "x.mp4")

			assert.Equal(t, tt.score, result.Score)
			assert.Equal(t, tt.verdict, result.Verdict)
			assert.Equal(t, tt.rules, result.Rules)
			assert.Empty(t, result.DetectedIssues)
		})
	}
}

func TestAnalyzeRunsDoNotStraddleFields(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)

	// "123"+"21" would merge into a second five-digit run only if
	// fields were joined without a separator.
	result := a.Analyze("order 123", "21 units", "ref54321.mp4")
	assert.Equal(t, 0, result.Score)
}

func TestAnalyzeThresholdBoundary(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)

	t.Run("score of exactly 30 stays safe", func(t *testing.T) {
		result := a.Analyze("", "kill", "")
		assert.Equal(t, 30, result.Score)
		assert.Equal(t, models.VerdictSafe, result.Verdict)
		require.Len(t, result.DetectedIssues, 1)
		assert.Equal(t, "violence", result.DetectedIssues[0].Category)
		assert.Equal(t, "Content passed all checks", result.Summary)
	})

	t.Run("score of 31 is flagged", func(t *testing.T) {
		// spam keyword in filename (16) plus a repeated-char run (15).
		result := a.Analyze("aaaaa", "", "spam.mp4")
		assert.Equal(t, 31, result.Score)
		assert.Equal(t, models.VerdictFlagged, result.Verdict)
		assert.Equal(t, []string{
			"Spam/Misleading detected (score: 16)",
			"Repeated characters detected (spam pattern)",
		}, result.Rules)
		assert.Equal(t, "Content flagged in 1 category", result.Summary)
	})
}

func TestAnalyzeFieldMultipliers(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("kill", "kill", "kill.mp4")

	// 1.2*30 + 1.0*30 + 0.8*30 = 90.
	assert.Equal(t, 90, result.Score)
	assert.Equal(t, models.VerdictFlagged, result.Verdict)
	require.Len(t, result.DetectedIssues, 1)
	assert.Equal(t, []string{
		"kill in title",
		"kill in description",
		"kill in filename",
	}, result.DetectedIssues[0].Keywords)
}

func TestAnalyzeCategoryCap(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("adult explicit porn sexual nude", "", "x.mp4")

	require.Contains(t, result.CategoryBreakdown, "explicit")
	assert.Equal(t, 100, result.CategoryBreakdown["explicit"].Score)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, models.VerdictFlagged, result.Verdict)

	// "sex" matches as a substring of "sexual".
	assert.Contains(t, result.CategoryBreakdown["explicit"].Keywords, "sex in title")
}

func TestAnalyzeTotalCap(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("adult murder hate illegal suicide spam", "", "x.mp4")

	assert.Equal(t, 100, result.Score)
	assert.Len(t, result.DetectedIssues, 6)
}

func TestAnalyzeASCIIFoldingOnly(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)

	t.Run("upper case matches", func(t *testing.T) {
		result := a.Analyze("ADULT Content", "", "x.mp4")
		assert.Equal(t, 48, result.Score)
	})

	t.Run("non-ascii bytes pass through", func(t *testing.T) {
		result := a.Analyze("ÄDULT", "", "x.mp4")
		assert.Equal(t, 0, result.Score)
	})
}

func TestAnalyzeDeterminism(t *testing.T) {
	title := "adult violence content !!!!! 12345 67890"
	description := strings.Repeat("kill ", 250)
	filename := "spam-video.mp4"

	first, err := json.Marshal(NewAnalyzer(DefaultFlagThreshold).Analyze(title, description, filename))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		next, err := json.Marshal(NewAnalyzer(DefaultFlagThreshold).Analyze(title, description, filename))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(next))
	}
}

func TestAnalyzeConfiguredThreshold(t *testing.T) {
	strict := NewAnalyzer(10)
	lenient := NewAnalyzer(90)

	result := strict.Analyze("", "kill", "")
	assert.Equal(t, models.VerdictFlagged, result.Verdict)

	result = lenient.Analyze("adult violence content", "", "x.mp4")
	assert.Equal(t, 84, result.Score)
	assert.Equal(t, models.VerdictSafe, result.Verdict)
}

func TestNewAnalyzerNegativeThreshold(t *testing.T) {
	a := NewAnalyzer(-1)
	assert.Equal(t, DefaultFlagThreshold, a.Threshold())
}

func TestAnalyzeEmptyInput(t *testing.T) {
	a := NewAnalyzer(DefaultFlagThreshold)
	result := a.Analyze("", "", "")

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, models.VerdictSafe, result.Verdict)
	assert.Equal(t, []string{"Passed all content checks"}, result.Rules)
}
