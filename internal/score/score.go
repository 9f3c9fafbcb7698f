// Package score maps a face-verification distance onto a 0-100 match
// percentage and a qualitative match level.
package score

import (
	"errors"
	"math"
)

// Percentages at which the match level changes.
const (
	ExcellentFloor = 70.0
	GoodFloor      = 50.0
	ModerateFloor  = 30.0
)

// Share of the scale reserved for distances within the threshold: a distance
// equal to the threshold maps to 100-matchBand = 70%.
const matchBand = 30.0

// Distances at or beyond threshold*maxDistanceFactor map to 0%.
const maxDistanceFactor = 3.0

var (
	ErrInvalidThreshold = errors.New("score: threshold must be a finite value greater than zero")
	ErrInvalidDistance  = errors.New("score: distance must be a finite value of at least zero")
)

// Level is a qualitative bucket of the match percentage.
type Level string

const (
	LevelExcellent Level = "Excellent Match"
	LevelGood      Level = "Good Match"
	LevelModerate  Level = "Moderate Match"
	LevelLow       Level = "Low Match"
)

// Color returns the display color associated with the level.
func (l Level) Color() string {
	switch l {
	case LevelExcellent:
		return "#00ff88"
	case LevelGood:
		return "#ffaa00"
	case LevelModerate:
		return "#ff6600"
	default:
		return "#ff3366"
	}
}

// Verdict is the normalized outcome of a single comparison.
type Verdict struct {
	MatchPercentage float64
	MatchLevel      Level
	MatchColor      string
}

// Normalize converts a raw distance and model threshold into a Verdict.
func Normalize(distance, threshold float64) (Verdict, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return Verdict{}, ErrInvalidThreshold
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) || distance < 0 {
		return Verdict{}, ErrInvalidDistance
	}

	var percentage float64
	if distance <= threshold {
		percentage = 100 - (distance/threshold)*matchBand
	} else {
		maxDistance := threshold * maxDistanceFactor
		percentage = ExcellentFloor - ((distance-threshold)/(maxDistance-threshold))*ExcellentFloor
	}
	percentage = Round(clamp(percentage, 0, 100), 2)

	level := LevelFor(percentage)
	return Verdict{
		MatchPercentage: percentage,
		MatchLevel:      level,
		MatchColor:      level.Color(),
	}, nil
}

// LevelFor buckets an already rounded percentage.
func LevelFor(percentage float64) Level {
	switch {
	case percentage >= ExcellentFloor:
		return LevelExcellent
	case percentage >= GoodFloor:
		return LevelGood
	case percentage >= ModerateFloor:
		return LevelModerate
	default:
		return LevelLow
	}
}

// Round rounds v to the given number of decimal places, halves away from zero.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
