package ranking

import (
	"math"
	"time"
)

// Defaults tuned for answers, which stay relevant longer than news stories.
const (
	DefaultGravity  = 1.8
	DefaultTimebase = 2
)

type Rankable interface {
	GetScore() int64
	Age() time.Time
}

// Rank computes a Hacker News style rank: the net score decays with age.
func Rank(item Rankable, gravity float64, timebaseInHours int64, referenceTime time.Time) float64 {
	hours := referenceTime.Sub(item.Age()).Hours()
	if hours < 0 {
		hours = 0
	}
	s := item.GetScore()

	return float64(s-1) / math.Pow((float64(timebaseInHours)+hours), gravity)
}
