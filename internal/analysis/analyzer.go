package analysis

import (
	"fmt"
	"strings"

	"github.com/clipdock/clipdock/internal/models"
)

// DefaultFlagThreshold is the score a video must strictly exceed to be
// flagged.
const DefaultFlagThreshold = 30

// Per-field multipliers applied to a category weight for each keyword
// occurrence.
const (
	titleWeight       = 1.2
	descriptionWeight = 1.0
	filenameWeight    = 0.8
)

// category is one row of the keyword table.
type category struct {
	key      string
	display  string
	weight   float64
	keywords []string
}

// categories is scanned in order; rule strings and detected issues keep
// this ordering so results are reproducible.
var categories = []category{
	{
		key:     "explicit",
		display: "Explicit Content",
		weight:  40,
		keywords: []string{
			"adult", "explicit", "porn", "xxx", "sexual", "nude",
			"naked", "sex", "hot", "strip", "orgasm", "intercourse",
		},
	},
	{
		key:     "violence",
		display: "Violence/Gore",
		weight:  30,
		keywords: []string{
			"violence", "murder", "kill", "death", "gore", "blood",
			"brutal", "assault", "fight", "weapon", "gun", "knife", "shoot",
		},
	},
	{
		key:     "hate",
		display: "Hate Speech",
		weight:  35,
		keywords: []string{
			"hate", "racist", "sexist", "discrimination", "slur",
			"bigot", "inferior", "supremacist", "prejudice",
		},
	},
	{
		key:     "illegal",
		display: "Illegal Activity",
		weight:  35,
		keywords: []string{
			"illegal", "drug", "cocaine", "heroin", "meth", "steal",
			"robbery", "crime", "criminal", "fraud", "scam",
		},
	},
	{
		key:     "harmful",
		display: "Self-Harm/Dangerous Content",
		weight:  38,
		keywords: []string{
			"suicide", "self-harm", "cutting", "dangerous", "harm",
			"injury", "trauma", "abuse", "domestic violence",
		},
	},
	{
		key:     "spam",
		display: "Spam/Misleading",
		weight:  20,
		keywords: []string{
			"spam", "clickbait", "scam", "fake", "hoax",
			"misinformation", "misleading", "phishing", "malware",
		},
	},
}

// patternRule is a structural check on the combined text. Thresholds
// using strict comparisons (>2 runs, >1 runs) are intentional: a single
// run of special characters or digits is not spam on its own.
type patternRule struct {
	delta   int
	message string
	match   func(combined, description string) bool
}

var patternRules = []patternRule{
	{
		delta:   15,
		message: "Repeated characters detected (spam pattern)",
		match: func(combined, _ string) bool {
			return longestRun(combined) >= 5
		},
	},
	{
		delta:   8,
		message: "Unusually long description (potential spam)",
		match: func(_, description string) bool {
			return len(description) > 1000
		},
	},
	{
		delta:   12,
		message: "Excessive special characters detected",
		match: func(combined, _ string) bool {
			return countRuns(combined, isSpecial, 3) > 2
		},
	},
	{
		delta:   10,
		message: "Excessive number sequences detected",
		match: func(combined, _ string) bool {
			return countRuns(combined, isDigit, 5) > 1
		},
	},
}

// Analyzer maps video text metadata to a sensitivity score, verdict,
// and per-category breakdown. Analysis is pure: identical inputs yield
// identical results, byte for byte.
type Analyzer struct {
	threshold int
}

// NewAnalyzer returns an analyzer that flags content scoring strictly
// above threshold. A negative threshold falls back to
// DefaultFlagThreshold.
func NewAnalyzer(threshold int) *Analyzer {
	if threshold < 0 {
		threshold = DefaultFlagThreshold
	}
	return &Analyzer{threshold: threshold}
}

// Threshold reports the configured flag threshold.
func (a *Analyzer) Threshold() int {
	return a.threshold
}

// Analyze scores the given metadata. Keyword matching is a
// case-insensitive substring scan per field; pattern rules run against
// the space-joined concatenation of all three fields. Fields are joined
// with a separator so character runs never straddle a field boundary.
func (a *Analyzer) Analyze(title, description, filename string) models.Sensitivity {
	titleL := asciiLower(title)
	descL := asciiLower(description)
	fileL := asciiLower(filename)
	combined := titleL + " " + descL + " " + fileL

	result := models.Sensitivity{
		Verdict:           models.VerdictSafe,
		Rules:             []string{},
		CategoryBreakdown: make(map[string]models.CategoryDetail),
		DetectedIssues:    []models.DetectedIssue{},
	}

	total := 0
	for _, cat := range categories {
		score, labels := scanCategory(cat, titleL, descL, fileL)
		if score == 0 {
			continue
		}
		result.CategoryBreakdown[cat.key] = models.CategoryDetail{
			Score:    score,
			Keywords: labels,
		}
		result.DetectedIssues = append(result.DetectedIssues, models.DetectedIssue{
			Category: cat.key,
			Score:    score,
			Keywords: labels,
		})
		result.Rules = append(result.Rules, fmt.Sprintf("%s detected (score: %d)", cat.display, score))
		total += score
	}

	for _, rule := range patternRules {
		if rule.match(combined, description) {
			total += rule.delta
			result.Rules = append(result.Rules, rule.message)
		}
	}

	if total > 100 {
		total = 100
	}
	result.Score = total
	if total > a.threshold {
		result.Verdict = models.VerdictFlagged
	}
	if len(result.Rules) == 0 {
		result.Rules = []string{"Passed all content checks"}
	}
	result.Summary = summarize(result.Verdict, len(result.DetectedIssues))
	return result
}

// scanCategory accumulates one category over the three lowercased
// fields. A keyword contributes once per field it appears in, however
// many times it occurs there. The category score is capped at 100
// before truncation to an integer.
func scanCategory(cat category, title, description, filename string) (int, []string) {
	var score float64
	var labels []string
	for _, kw := range cat.keywords {
		if strings.Contains(title, kw) {
			score += titleWeight * cat.weight
			labels = append(labels, kw+" in title")
		}
		if strings.Contains(description, kw) {
			score += descriptionWeight * cat.weight
			labels = append(labels, kw+" in description")
		}
		if strings.Contains(filename, kw) {
			score += filenameWeight * cat.weight
			labels = append(labels, kw+" in filename")
		}
	}
	if score > 100 {
		score = 100
	}
	return int(score), labels
}

func summarize(verdict string, issues int) string {
	if verdict != models.VerdictFlagged {
		return "Content passed all checks"
	}
	switch issues {
	case 0:
		return "Content flagged by pattern analysis"
	case 1:
		return "Content flagged in 1 category"
	default:
		return fmt.Sprintf("Content flagged in %d categories", issues)
	}
}

// asciiLower folds A-Z only. Non-ASCII bytes pass through unchanged,
// keeping results independent of locale case-folding tables.
func asciiLower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// longestRun returns the length of the longest run of a single repeated
// byte in s.
func longestRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i] == s[i-1] {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// countRuns counts maximal runs of at least minLen consecutive bytes
// accepted by member.
func countRuns(s string, member func(byte) bool, minLen int) int {
	count, run := 0, 0
	for i := 0; i < len(s); i++ {
		if member(s[i]) {
			run++
			continue
		}
		if run >= minLen {
			count++
		}
		run = 0
	}
	if run >= minLen {
		count++
	}
	return count
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpecial(b byte) bool {
	switch b {
	case '!', '@', '#', '$', '%', '^', '&', '*':
		return true
	}
	return false
}
