package scoring

import "github.com/sells-group/assessment-engine/internal/model"

// Aggregate rolls item scores up into theme and overall scores.
//
// A theme's score is the weighted sum of its non-null item scores and its max
// score is 100 times the summed weight of every scoreable item, scored or
// not. The overall percentage is the theme-weighted mean of theme
// percentages over themes with a non-zero max score. No value is rounded.
func Aggregate(assessmentID string, tpl *model.Template, items []model.ItemScore) *model.ScoreSet {
	byTheme := make(map[string][]model.ItemScore)
	for _, it := range items {
		byTheme[it.ThemeID] = append(byTheme[it.ThemeID], it)
	}

	set := &model.ScoreSet{AssessmentID: assessmentID, Themes: []model.ThemeScore{}}
	var weighted, weights float64
	for _, th := range tpl.Themes {
		ts := model.ThemeScore{
			AssessmentID: assessmentID,
			ThemeID:      th.ID,
			ThemeSlug:    th.Slug,
			ThemeName:    th.Name,
			Weight:       th.Weight,
			Items:        byTheme[th.ID],
		}
		for _, it := range ts.Items {
			ts.MaxScore += it.Weight * 100
			if it.AIScore != nil {
				ts.Score += *it.AIScore * it.Weight
			}
		}
		if ts.MaxScore > 0 {
			ts.Percentage = 100 * ts.Score / ts.MaxScore
			weighted += ts.Percentage * th.Weight
			weights += th.Weight
		}
		set.OverallScore += ts.Score
		set.OverallMaxScore += ts.MaxScore
		set.Themes = append(set.Themes, ts)
	}
	if weights > 0 {
		set.OverallPercentage = weighted / weights
	}

	for _, it := range items {
		if it.AIScore != nil {
			set.ItemsScored++
		}
	}
	return set
}
