// Package scorer содержит оценку качества черновиков промптов.
package scorer

import (
	"errors"
	"strings"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// ErrInvalidDraft возвращается для пустого или нетекстового черновика.
// Это дефект генерации, а не низкая оценка качества.
var ErrInvalidDraft = errors.New("invalid draft")

// Границы длины текста в словах. Тексты короче optimalMin не получают
// баллов за длину: даже со всеми остальными маркерами качества их сумма
// остаётся ниже порога отбраковки по умолчанию, включая ровно minWords.
const (
	minWords   = 100
	optimalMin = 150
	optimalMax = 300
	maxWords   = 400
)

const (
	lengthWeight     = 0.25
	structureWeight  = 0.15
	specificWeight   = 0.1
	professionWeight = 0.1
	actionWeight     = 0.15
	keywordWeight    = 0.25
)

var structureMarkers = []string{"1.", "2.", "3.", "•", "-"}

var specificWords = []string{"specific", "example", "include", "detailed", "step-by-step"}

var professionalTerms = []string{"professional", "strategic", "analysis", "implementation", "optimization"}

var actionWords = []string{"create", "develop", "analyze", "implement", "optimize", "design"}

// Score оценивает качество черновика в диапазоне [0, 1]. Оценка
// детерминирована: одинаковый вход даёт одинаковый результат.
func Score(draft model.Draft) (float64, error) {
	body := strings.TrimSpace(draft.Body)
	if body == "" {
		return 0, ErrInvalidDraft
	}

	score := lengthScore(body)
	lower := strings.ToLower(body)

	if containsAny(body, structureMarkers) {
		score += structureWeight
	}
	if containsAny(lower, specificWords) {
		score += specificWeight
	}
	if containsAny(lower, professionalTerms) {
		score += professionWeight
	}
	if containsAny(lower, actionWords) {
		score += actionWeight
	}

	score += keywordWeight * keywordCoverage(lower, draft.Keywords)

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return score, nil
}

func lengthScore(body string) float64 {
	words := len(strings.Fields(body))

	switch {
	case words >= optimalMin && words <= optimalMax:
		return lengthWeight
	case words > optimalMax && words <= maxWords:
		return lengthWeight / 2
	default:
		return 0
	}
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// keywordCoverage возвращает долю ключевых слов ниши, встречающихся в тексте.
func keywordCoverage(lower string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	found := 0
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			found++
		}
	}

	return float64(found) / float64(len(keywords))
}
