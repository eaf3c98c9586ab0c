package agent

import (
	"fmt"
	"strings"

	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/adapter"
	"ai-analysis-pipeline/internal/structured"
)

// Only types and required keys are enforced; ranges are clamped after
// decoding so that a slightly off answer still counts as parsed.
const visionSchema = `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "overall_score": {"type": ["number", "null"]},
    "summary": {"type": "string"},
    "rally_count": {"type": ["number", "null"]},
    "points_won": {"type": ["number", "null"]},
    "points_lost": {"type": ["number", "null"]},
    "confidence": {"type": ["number", "null"]},
    "errors": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["category", "description"],
        "properties": {
          "category": {"type": "string"},
          "severity": {"type": ["string", "null"]},
          "description": {"type": "string"},
          "timestamp_sec": {"type": ["number", "null"]}
        }
      }
    },
    "stats": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["metric", "value"],
        "properties": {
          "metric": {"type": "string"},
          "value": {"type": "number"},
          "unit": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

const planSchema = `{
  "type": "object",
  "required": ["exercises"],
  "properties": {
    "confidence": {"type": ["number", "null"]},
    "notes": {"type": ["string", "null"]},
    "exercises": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "category": {"type": ["string", "null"]},
          "duration_min": {"type": ["number", "null"]},
          "repetitions": {"type": ["number", "null"]},
          "difficulty": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	visionDecoder = structured.MustDecoder(visionSchema)
	planDecoder   = structured.MustDecoder(planSchema)
)

func categoryList() string {
	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func visionMessages(p model.AnalyzePayload) []adapter.Message {
	sys := fmt.Sprintf(`You are a racket sports coach reviewing match footage.
Reply with a single JSON object and nothing else:
{"overall_score": 0-100 or null, "summary": string, "rally_count": integer,
 "points_won": integer or null, "points_lost": integer or null, "confidence": 0-1,
 "errors": [{"category": one of [%s], "severity": "high"|"medium"|"low",
             "description": string, "timestamp_sec": number or null}],
 "stats": [{"metric": string, "value": number, "unit": string}]}
Use null when a value cannot be determined from the footage.`, categoryList())

	var b strings.Builder
	b.WriteString("Analyze the attached video.")
	if p.Sport != "" {
		fmt.Fprintf(&b, "\nSport: %s", p.Sport)
	}
	if p.PlayerLevel != "" {
		fmt.Fprintf(&b, "\nPlayer level: %s", p.PlayerLevel)
	}
	if p.DurationSec > 0 {
		fmt.Fprintf(&b, "\nDuration: %ds", p.DurationSec)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "\nNotes from the player: %s", p.Notes)
	}
	return []adapter.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: b.String()},
	}
}

func planMessages(in PlanInput) []adapter.Message {
	sys := fmt.Sprintf(`You are a racket sports coach writing a training plan.
Reply with a single JSON object and nothing else:
{"confidence": 0-1, "notes": string,
 "exercises": [{"title": string, "description": string, "category": one of [%s],
                "duration_min": integer, "repetitions": integer,
                "difficulty": "easy"|"medium"|"hard"}]}
Start with a warm-up and order exercises by importance. At most 8 exercises.`, categoryList())

	var b strings.Builder
	if in.Summary != "" {
		fmt.Fprintf(&b, "Match summary: %s\n", in.Summary)
	}
	if in.PlayerLevel != "" {
		fmt.Fprintf(&b, "Player level: %s\n", in.PlayerLevel)
	}
	if in.FocusNotes != "" {
		fmt.Fprintf(&b, "Focus: %s\n", in.FocusNotes)
	}
	if len(in.Errors) == 0 {
		b.WriteString("No specific errors were detected; build a general plan.")
	} else {
		b.WriteString("Observed errors:\n")
		for _, e := range in.Errors {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", e.Category, e.Severity, e.Description)
		}
	}
	return []adapter.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: b.String()},
	}
}
