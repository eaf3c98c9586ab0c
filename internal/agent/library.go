package agent

import (
	"sort"

	"ai-analysis-pipeline/internal/domain/model"
)

const (
	perCategoryExercises = 2
	maxLibraryExercises  = 6
)

type drill struct {
	Title       string
	Description string
	DurationMin int
	Repetitions int
	Difficulty  string
}

var warmUp = drill{
	Title:       "Dynamic warm-up",
	Description: "Light jog, side shuffles, arm circles and shadow swings at half pace.",
	DurationMin: 10,
	Difficulty:  "easy",
}

// drills is the static rule-based library, keyed by error category.
var drills = map[model.ErrorCategory][]drill{
	model.CategoryServe: {
		{"Toss consistency", "Toss 20 balls without hitting; each should land on a racket placed in front of the baseline.", 10, 20, "easy"},
		{"Target serving", "Serve to cones in the corners of each service box, alternating deuce and ad side.", 15, 30, "medium"},
	},
	model.CategoryReturn: {
		{"Split-step returns", "Partner serves at 70% pace; focus on a split step timed with the server's contact.", 15, 25, "medium"},
		{"Block return drill", "Shorten the backswing and block deep returns through the middle.", 10, 20, "medium"},
	},
	model.CategoryForehand: {
		{"Cross-court forehand rally", "Sustain cross-court forehands past the service line with topspin.", 15, 40, "medium"},
		{"Inside-out forehand", "Run around fed balls to the backhand side and drive them inside-out.", 10, 20, "hard"},
	},
	model.CategoryBackhand: {
		{"Backhand wall rally", "Hit continuous backhands against a wall keeping contact in front of the body.", 10, 50, "easy"},
		{"Down-the-line backhand", "Alternate cross-court and down-the-line backhands from fed balls.", 15, 30, "medium"},
	},
	model.CategoryVolley: {
		{"Reflex volleys", "Partner feeds quick balls from the service line; keep the racket head up.", 10, 40, "medium"},
		{"Approach and volley", "Approach off a short ball and finish with a first volley to the open court.", 15, 20, "hard"},
	},
	model.CategorySmash: {
		{"Overhead footwork", "Turn sideways and use crossover steps back to lobs before hitting.", 10, 15, "medium"},
		{"Smash placement", "Smash fed lobs to targets, prioritising control over pace.", 10, 20, "hard"},
	},
	model.CategoryFootwork: {
		{"Ladder footwork", "Agility ladder patterns: in-out, lateral shuffle and crossover.", 10, 6, "easy"},
		{"Recovery sprints", "Hit a wide ball then sprint back to the centre mark before the next feed.", 10, 12, "hard"},
	},
	model.CategoryPositioning: {
		{"Court position awareness", "Play points where every shot must be followed by a recovery to the ideal position.", 15, 10, "medium"},
		{"Shadow positioning", "Without the ball, move through rally patterns and freeze at each recovery spot.", 10, 8, "easy"},
	},
	model.CategoryTactics: {
		{"Pattern play", "Rehearse serve plus one and return plus one patterns chosen before each point.", 20, 10, "medium"},
		{"High-percentage targets", "Rally only to deep cross-court zones until an attackable ball appears.", 15, 20, "medium"},
	},
	model.CategoryGeneral: {
		{"Consistency rally", "Rally from the baseline aiming for 20 balls in a row without an error.", 15, 5, "easy"},
		{"Match simulation", "Play tiebreaks focusing on the routine between points.", 20, 3, "medium"},
	},
}

type categoryWeight struct {
	category model.ErrorCategory
	severity int
	count    int
	order    int
}

// LibraryExercises selects exercises for the categories present in errs. It
// always starts with a general warm-up, then takes up to two drills per
// category ordered by worst severity and frequency, capped overall.
func LibraryExercises(reportID string, errs []model.AnalysisError) []model.Exercise {
	weights := map[model.ErrorCategory]*categoryWeight{}
	for _, e := range errs {
		cat := model.ParseCategory(string(e.Category))
		w, ok := weights[cat]
		if !ok {
			w = &categoryWeight{category: cat, order: categoryOrder(cat)}
			weights[cat] = w
		}
		w.count++
		if s := model.ParseSeverity(string(e.Severity)).Weight(); s > w.severity {
			w.severity = s
		}
	}

	ranked := make([]*categoryWeight, 0, len(weights))
	for _, w := range weights {
		ranked = append(ranked, w)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.severity != b.severity {
			return a.severity > b.severity
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.order < b.order
	})

	out := []model.Exercise{toExercise(reportID, model.CategoryGeneral, warmUp, 1)}
	for _, w := range ranked {
		for i, d := range drills[w.category] {
			if i >= perCategoryExercises || len(out) >= maxLibraryExercises {
				break
			}
			out = append(out, toExercise(reportID, w.category, d, len(out)+1))
		}
		if len(out) >= maxLibraryExercises {
			break
		}
	}
	return out
}

func toExercise(reportID string, cat model.ErrorCategory, d drill, priority int) model.Exercise {
	return model.Exercise{
		ReportID:    reportID,
		Title:       d.Title,
		Description: d.Description,
		Category:    cat,
		DurationMin: d.DurationMin,
		Repetitions: d.Repetitions,
		Difficulty:  d.Difficulty,
		Priority:    priority,
		Source:      model.ExerciseSourceLibrary,
	}
}

func categoryOrder(c model.ErrorCategory) int {
	for i, cat := range model.Categories {
		if cat == c {
			return i
		}
	}
	return len(model.Categories)
}
