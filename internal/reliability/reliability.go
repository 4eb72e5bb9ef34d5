// Package reliability scores how far a KPI can be trusted given the data it was
// computed from.
//
// Each scorer starts at 100 and subtracts penalties for small samples, poor
// categorization and missing prerequisites. Scores are computed per request and
// never persisted.
package reliability

import "math"

// Level is the coarse reliability band of a score
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelModerate  Level = "moderate"
	LevelPoor      Level = "poor"
)

// LevelFor maps a 0-100 score to its band
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelExcellent
	case score >= 60:
		return LevelGood
	case score >= 40:
		return LevelModerate
	default:
		return LevelPoor
	}
}

// Prerequisites lists which data requirements a KPI met
type Prerequisites struct {
	Met      []string `json:"met"`
	Missing  []string `json:"missing"`
	Warnings []string `json:"warnings"`
}

// DataQuality breaks the score down into three 0-100 sub-scores
type DataQuality struct {
	Completeness int `json:"completeness"`
	Consistency  int `json:"consistency"`
	Accuracy     int `json:"accuracy"`
}

// Score is the reliability assessment attached to every KPI result
type Score struct {
	Score           int           `json:"score"`
	Level           Level         `json:"level"`
	Prerequisites   Prerequisites `json:"prerequisites"`
	Recommendations []string      `json:"recommendations"`
	DataQuality     DataQuality   `json:"dataQuality"`
}

// builder accumulates penalties and prerequisite notes
type builder struct {
	score           float64
	completeness    float64
	consistency     float64
	accuracy        float64
	met             []string
	missing         []string
	warnings        []string
	recommendations []string
}

func newBuilder() *builder {
	return &builder{
		score:        100,
		completeness: 100,
		consistency:  100,
		accuracy:     100,
		met:          []string{},
		missing:      []string{},
		warnings:     []string{},
	}
}

func (b *builder) ok(what string) {
	b.met = append(b.met, what)
}

func (b *builder) lack(what, recommendation string, penalty float64) {
	b.missing = append(b.missing, what)
	b.penalize(penalty, recommendation)
}

func (b *builder) warn(what, recommendation string, penalty float64) {
	b.warnings = append(b.warnings, what)
	b.penalize(penalty, recommendation)
}

func (b *builder) penalize(penalty float64, recommendation string) {
	b.score -= penalty
	if recommendation != "" {
		b.recommendations = append(b.recommendations, recommendation)
	}
}

func (b *builder) build() Score {
	s := clamp(b.score)
	if b.recommendations == nil {
		b.recommendations = []string{}
	}
	return Score{
		Score: s,
		Level: LevelFor(s),
		Prerequisites: Prerequisites{
			Met:      b.met,
			Missing:  b.missing,
			Warnings: b.warnings,
		},
		Recommendations: b.recommendations,
		DataQuality: DataQuality{
			Completeness: clamp(b.completeness),
			Consistency:  clamp(b.consistency),
			Accuracy:     clamp(b.accuracy),
		},
	}
}

func clamp(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

// Zero returns a score of 0 with a single missing prerequisite
func Zero(missing, recommendation string) Score {
	b := newBuilder()
	b.lack(missing, recommendation, 100)
	b.completeness, b.consistency, b.accuracy = 0, 0, 0
	return b.build()
}
