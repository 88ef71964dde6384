// Package config содержит логику чтения конфигурации системы автоматизации промптов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации системы. Значение неизменяемо
// после Parse и передаётся компонентам при конструировании.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	GenerationAddress  string        `env:"GENERATION_SERVICE_ADDRESS"`
	MarketplaceAddress string        `env:"MARKETPLACE_ADDRESS"`
	MarketplaceToken   string        `env:"MARKETPLACE_TOKEN"`
	NotifyWebhookURL   string        `env:"NOTIFY_WEBHOOK_URL"`
	OperatorToken      string        `env:"OPERATOR_TOKEN"`
	NichesRaw          string        `env:"NICHES"`
	DraftsPerNiche     int           `env:"DRAFTS_PER_NICHE"`
	MinQualityScore    float64       `env:"MIN_QUALITY_SCORE"`
	PublishRetries     int           `env:"PUBLISH_RETRIES"`
	GenerationRetries  int           `env:"GENERATION_RETRIES"`
	ExternalTimeout    time.Duration `env:"EXTERNAL_TIMEOUT"`
	CycleInterval      time.Duration `env:"CYCLE_INTERVAL"`

	Niches []string `env:"-"`
}

// defaultNiches — ниши по умолчанию, отобранные по доходности.
var defaultNiches = []string{
	"Business & Marketing",
	"Content Creation & Copywriting",
	"E-commerce & Sales",
	"Programming & Development",
	"Personal Productivity",
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGeneration := cfg.GenerationAddress
	envMarketplace := cfg.MarketplaceAddress
	envNiches := cfg.NichesRaw

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GenerationAddress, "g", "", "generation service address")
	flag.StringVar(&cfg.MarketplaceAddress, "m", "", "marketplace address")
	flag.StringVar(&cfg.NichesRaw, "n", "", "comma-separated niche list")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGeneration != "" {
		cfg.GenerationAddress = envGeneration
	}
	if envMarketplace != "" {
		cfg.MarketplaceAddress = envMarketplace
	}
	if envNiches != "" {
		cfg.NichesRaw = envNiches
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DraftsPerNiche <= 0 {
		cfg.DraftsPerNiche = 3
	}
	if cfg.MinQualityScore <= 0 {
		cfg.MinQualityScore = 0.8
	}
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = 3
	}
	if cfg.GenerationRetries <= 0 {
		cfg.GenerationRetries = 2
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 5 * time.Second
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 24 * time.Hour
	}

	cfg.Niches = parseNiches(cfg.NichesRaw)

	return cfg, nil
}

func parseNiches(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		res := make([]string, len(defaultNiches))
		copy(res, defaultNiches)
		return res
	}

	var res []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			res = append(res, trimmed)
		}
	}
	return res
}

// nicheKeywords — ключевые слова для генерации и оценки по нишам.
var nicheKeywords = map[string][]string{
	"Business & Marketing": {
		"lead generation", "sales funnel", "customer acquisition",
		"brand strategy", "market research", "competitive analysis",
		"business plan", "ROI optimization", "conversion rate",
	},
	"Content Creation & Copywriting": {
		"blog posts", "sales copy", "email sequences",
		"social media content", "ad copy", "headlines",
		"storytelling", "persuasive writing", "content strategy",
	},
	"E-commerce & Sales": {
		"product descriptions", "Amazon listings", "sales pages",
		"checkout optimization", "upsell strategies", "cart abandonment",
		"customer reviews", "product photography", "inventory management",
	},
	"Programming & Development": {
		"code generation", "debugging", "API documentation",
		"database design", "testing strategies", "deployment",
		"performance optimization", "security best practices", "architecture",
	},
	"Personal Productivity": {
		"time management", "goal setting", "habit formation",
		"workflow optimization", "task prioritization", "focus techniques",
		"productivity systems", "motivation", "work-life balance",
	},
}

// NicheKeywords возвращает ключевые слова для указанной ниши.
// Для неизвестной ниши возвращается nil.
func (c *Config) NicheKeywords(niche string) []string {
	return nicheKeywords[niche]
}

// basePriceCents — базовая цена товара по нишам в минорных единицах.
var basePriceCents = map[string]int64{
	"Business & Marketing":           3500,
	"E-commerce & Sales":             4500,
	"Programming & Development":      5000,
	"Content Creation & Copywriting": 2500,
	"Personal Productivity":          2000,
}

const defaultBasePriceCents = 3000

// PriceFor вычисляет цену товара по нише и оценке качества.
// Множитель качества лежит в диапазоне 0.5–1.5.
func (c *Config) PriceFor(niche string, qualityScore float64) int64 {
	base, ok := basePriceCents[niche]
	if !ok {
		base = defaultBasePriceCents
	}

	multiplier := 1 + (qualityScore - 0.5)
	return int64(float64(base) * multiplier)
}
