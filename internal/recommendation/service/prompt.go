package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	"github.com/reelay/reelay/internal/recommendation/domain"
)

// Prompt size stays bounded regardless of how much the user has rated.
const (
	likedPromptLimit    = 25
	dislikedPromptLimit = 15
	excerptLimit        = 400
)

const rankingSystemPrompt = "You convert film recommendation notes into strict JSON. " +
	"Output only JSON that matches the provided schema, nothing else."

func buildSourcingPrompt(history []ratingdomain.HistoryEntry, f domain.FilterSpec, likedMin, dislikedMax float64) string {
	var b strings.Builder
	b.WriteString("You are a movie and TV recommendation expert with access to current web knowledge.\n\n")
	writeTasteProfile(&b, history, likedMin, dislikedMax)
	writeConstraints(&b, f)
	fmt.Fprintf(&b,
		"Recommend exactly %d movies or TV shows the user has not mentioned above. "+
			"For each, give the title, release year, whether it is a movie or a TV show, "+
			"and one sentence on why it fits this user. Rank from best match to worst.\n",
		f.Count)
	return b.String()
}

func buildRankingPrompt(candidates string, history []ratingdomain.HistoryEntry, f domain.FilterSpec, likedMin, dislikedMax float64) string {
	var b strings.Builder
	b.WriteString("Candidate recommendations from a research assistant:\n<<<\n")
	b.WriteString(strings.TrimSpace(candidates))
	b.WriteString("\n>>>\n\n")
	writeTasteProfile(&b, history, likedMin, dislikedMax)
	writeConstraints(&b, f)
	fmt.Fprintf(&b,
		"Produce exactly %d recommendations drawn from the candidates above, best match first. "+
			"Supplement with your own picks only if the candidates run short. "+
			"score is your 0 to 1 prediction of how much this user will enjoy the title. "+
			"reason is one sentence.\n",
		f.Count)
	return b.String()
}

func buildCorrectivePrompt(previous string, parseErr error, malformed string) string {
	var b strings.Builder
	b.WriteString(previous)
	fmt.Fprintf(&b,
		"\nYour previous reply could not be parsed (%s). Offending excerpt:\n%s\n"+
			"Return only valid JSON for the schema.\n",
		parseErr, excerpt(malformed))
	return b.String()
}

func writeTasteProfile(b *strings.Builder, history []ratingdomain.HistoryEntry, likedMin, dislikedMax float64) {
	var liked, disliked []ratingdomain.HistoryEntry
	for _, entry := range history {
		switch {
		case entry.Score >= likedMin && len(liked) < likedPromptLimit:
			liked = append(liked, entry)
		case entry.Score <= dislikedMax && len(disliked) < dislikedPromptLimit:
			disliked = append(disliked, entry)
		}
	}

	if len(liked) > 0 {
		b.WriteString("The user loved these titles:\n")
		for _, entry := range liked {
			fmt.Fprintf(b, "- %s (%d): rated %.1f/10\n", entry.Name, entry.Year, entry.Score)
		}
		b.WriteString("\n")
	}
	if len(disliked) > 0 {
		b.WriteString("The user disliked these titles:\n")
		for _, entry := range disliked {
			fmt.Fprintf(b, "- %s (%d): rated %.1f/10\n", entry.Name, entry.Year, entry.Score)
		}
		b.WriteString("\n")
	}
}

func writeConstraints(b *strings.Builder, f domain.FilterSpec) {
	clauses := filterClauses(f)
	if len(clauses) == 0 {
		return
	}
	b.WriteString("Constraints:\n")
	for _, clause := range clauses {
		fmt.Fprintf(b, "- %s\n", clause)
	}
	b.WriteString("\n")
}

func filterClauses(f domain.FilterSpec) []string {
	var clauses []string
	switch {
	case f.YearFrom != 0 && f.YearTo != 0:
		clauses = append(clauses, fmt.Sprintf("Released between %d and %d.", f.YearFrom, f.YearTo))
	case f.YearFrom != 0:
		clauses = append(clauses, fmt.Sprintf("Released in %d or later.", f.YearFrom))
	case f.YearTo != 0:
		clauses = append(clauses, fmt.Sprintf("Released in %d or earlier.", f.YearTo))
	}
	if len(f.Genres) > 0 {
		clauses = append(clauses, fmt.Sprintf("Genres: %s.", strings.Join(f.Genres, ", ")))
	}
	if len(f.Languages) > 0 {
		clauses = append(clauses, fmt.Sprintf("Original language: %s.", strings.Join(f.Languages, " or ")))
	}
	if f.MinRating > 0 {
		clauses = append(clauses, fmt.Sprintf("Community rating at least %.1f/10.", f.MinRating))
	}
	if f.MinBoxOffice > 0 {
		clauses = append(clauses, fmt.Sprintf("Worldwide box office at least $%d.", f.MinBoxOffice))
	}
	if f.MaxBudget > 0 {
		clauses = append(clauses, fmt.Sprintf("Production budget at most $%d.", f.MaxBudget))
	}
	return clauses
}

// rankedItem is one entry of the structuring model's JSON output.
type rankedItem struct {
	Title     string  `json:"title"`
	Year      int     `json:"year"`
	MediaType string  `json:"mediaType"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// recommendationSchema builds the JSON schema the genai provider enforces.
func recommendationSchema(count int) json.RawMessage {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"items"},
		"properties": map[string]any{
			"items": map[string]any{
				"type":     "array",
				"minItems": count,
				"maxItems": count,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"title", "year", "mediaType", "score", "reason"},
					"properties": map[string]any{
						"title":     map[string]any{"type": "string"},
						"year":      map[string]any{"type": "integer"},
						"mediaType": map[string]any{"type": "string", "enum": []string{"movie", "tv"}},
						"score":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"reason":    map[string]any{"type": "string"},
					},
				},
			},
		},
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return raw
}

// parseRankedItems validates the structuring model's output. A deviating
// item count is accepted; structural violations are not.
func parseRankedItems(raw json.RawMessage) ([]rankedItem, error) {
	var payload struct {
		Items []rankedItem `json:"items"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if len(payload.Items) == 0 {
		return nil, errors.New("items is empty")
	}
	for i, item := range payload.Items {
		if strings.TrimSpace(item.Title) == "" {
			return nil, fmt.Errorf("item %d: title is empty", i)
		}
		if item.Score < 0 || item.Score > 1 {
			return nil, fmt.Errorf("item %d: score %v outside 0..1", i, item.Score)
		}
	}
	return payload.Items, nil
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > excerptLimit {
		return s[:excerptLimit] + "..."
	}
	return s
}
