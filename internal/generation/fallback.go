package generation

import (
	"fmt"
	"strings"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// nicheTemplates — стили шаблонов по нишам для резервной генерации.
var nicheTemplates = map[string][]string{
	"Business & Marketing": {
		"Strategic Analysis", "Campaign Planning", "Market Research",
		"Competitive Intelligence", "Customer Journey Mapping", "ROI Optimization",
	},
	"Content Creation & Copywriting": {
		"Persuasive Writing", "Storytelling Framework", "Content Strategy",
		"Audience Engagement", "Conversion Copywriting", "Brand Voice Development",
	},
	"E-commerce & Sales": {
		"Product Optimization", "Sales Funnel Design", "Customer Retention",
		"Pricing Strategy", "Conversion Rate Optimization", "Customer Service Excellence",
	},
	"Programming & Development": {
		"Code Architecture", "Problem Solving", "Performance Optimization",
		"Testing Strategy", "Documentation", "Debugging Process",
	},
	"Personal Productivity": {
		"Goal Achievement", "Time Management", "Habit Formation",
		"Focus Enhancement", "Workflow Optimization", "Motivation Boost",
	},
}

var genericTemplates = []string{"General Framework", "Step-by-Step Guide", "Strategic Approach"}

// TemplateGenerator — детерминированный резервный генератор черновиков.
// Используется, когда сервис генерации недоступен для всех ниш; его
// черновики помечаются источником template и отделимы в аналитике.
type TemplateGenerator struct{}

// NewTemplateGenerator создаёт резервный шаблонный генератор.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate собирает count черновиков для указанной ниши из шаблонов.
// Результат детерминирован для одинаковых аргументов.
func (g *TemplateGenerator) Generate(niche string, keywords []string, count int) []model.Draft {
	templates, ok := nicheTemplates[niche]
	if !ok {
		templates = genericTemplates
	}

	selected := keywords
	if len(selected) > 3 {
		selected = selected[:3]
	}

	drafts := make([]model.Draft, 0, count)
	for i := 0; i < count; i++ {
		template := templates[i%len(templates)]
		drafts = append(drafts, model.Draft{
			Niche:    niche,
			Title:    fmt.Sprintf("%s for %s", template, niche),
			Body:     templateBody(niche, template, selected),
			Template: template,
			Keywords: selected,
			Source:   model.DraftSourceTemplate,
		})
	}

	return drafts
}

func templateBody(niche, template string, keywords []string) string {
	focus := strings.Join(keywords, ", ")
	if focus == "" {
		focus = strings.ToLower(niche)
	}

	return fmt.Sprintf(`Act as an expert %s consultant. Create a comprehensive %s plan focused on %s.

Your response must be professional, specific and immediately actionable. Work through the following structure and include a detailed example for every section:

1. Situation analysis: describe the current state, the target audience and the relevant constraints. Include specific data points you would collect and explain how each one informs the plan.
2. Strategic recommendations: develop three concrete recommendations tied to %s. For every recommendation state the expected outcome and the reasoning behind it.
3. Implementation steps: lay out a step-by-step sequence of actions with owners, timelines and required resources. Analyze the dependencies between steps and call out the critical path.
4. Success metrics: define the measurements that show the plan is working, how often to review them and the thresholds that trigger a course correction.
5. Risk mitigation: identify the most likely failure modes, explain how to detect each one early and design a fallback plan for it.

Close with a short summary a decision maker can act on, then list the assumptions that must hold for the plan to succeed so the reader can validate them before implementation begins.`,
		strings.ToLower(niche), strings.ToLower(template), focus, focus)
}
