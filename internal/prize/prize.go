// Package prize holds the money ladder and its guaranteed checkpoints.
package prize

// MaxLevel is the top of the ladder.
const MaxLevel = 15

var table = [MaxLevel + 1]int64{
	0, 100, 200, 300, 500, 1000, 2000, 4000, 8000,
	16000, 32000, 64000, 125000, 250000, 500000, 1000000,
}

// checkpoints must stay sorted ascending.
var checkpoints = []int{0, 5, 10}

// Payout returns the prize for level, or 0 if level is off the ladder.
func Payout(level int) int64 {
	if level < 0 || level > MaxLevel {
		return 0
	}
	return table[level]
}

// Stake is the amount a player is playing for at level.
func Stake(level int) int64 {
	return Payout(level)
}

// Secured returns the floor a player keeps when leaving while attempting level:
// the payout at the highest checkpoint strictly below level.
func Secured(level int) int64 {
	if level <= 0 {
		return 0
	}

	for i := len(checkpoints) - 1; i >= 0; i-- {
		if level > checkpoints[i] {
			return Payout(checkpoints[i])
		}
	}
	return 0
}
