package game

import "math"

// eloScore maps a result to the Elo score of the rated player.
func eloScore(r Result) (float64, bool) {
	switch r {
	case ResultWin:
		return 1, true
	case ResultDraw:
		return 0.5, true
	case ResultLoss:
		return 0, true
	default:
		return 0, false
	}
}

// EloDelta computes the rating change of a player against the mean rating
// of their opponents. k is the development coefficient.
func EloDelta(rating, opponentMean int, result Result, k int) int {
	score, ok := eloScore(result)
	if !ok {
		return 0
	}
	expected := 1 / (1 + math.Pow(10, float64(opponentMean-rating)/400))
	return int(math.Round(float64(k) * (score - expected)))
}

// rate fills RatingDelta for every participant.
func rate(participants []*Participant, k int) {
	for _, p := range participants {
		sum, n := 0, 0
		for _, o := range participants {
			if o.Team != p.Team {
				sum += o.Rating
				n++
			}
		}
		if n == 0 {
			continue
		}
		mean := int(math.Round(float64(sum) / float64(n)))
		p.RatingDelta = EloDelta(p.Rating, mean, p.Result, k)
	}
}
