// Package model содержит доменные сущности системы автоматизации промптов.
package model

import "time"

// DraftSource описывает происхождение черновика промпта.
type DraftSource string

const (
	// DraftSourceService — черновик получен от внешнего сервиса генерации.
	DraftSourceService DraftSource = "service"
	// DraftSourceTemplate — черновик собран резервным шаблонным генератором.
	DraftSourceTemplate DraftSource = "template"
)

// Draft описывает сырой черновик промпта до оценки качества.
type Draft struct {
	Niche    string      `json:"niche"`
	Title    string      `json:"title"`
	Body     string      `json:"body"`
	Template string      `json:"template"`
	Keywords []string    `json:"keywords"`
	Source   DraftSource `json:"source"`
}

// Item описывает товар-промпт. После публикации запись неизменяема,
// продажи агрегируются отдельно по идентификатору товара.
type Item struct {
	ID           string
	Niche        string
	Title        string
	Body         string
	Template     string
	Source       DraftSource
	QualityScore float64
	PriceCents   int64
	Fingerprint  string
	ExternalID   *string
	CreatedAt    time.Time
}

// Sale описывает факт продажи товара. Запись неизменяема: корректировка
// оформляется новой сторнирующей продажей, а не правкой существующей.
// Имена покупателя приходят вместе с webhook продажи и сохраняются
// в карточке покупателя, а не в строке продажи.
type Sale struct {
	ID            int64
	ItemID        string
	AmountCents   int64
	CustomerEmail string
	FirstName     string
	LastName      string
	Channel       string
	SoldAt        time.Time
}

// CustomerStatus описывает сегмент покупателя, вычисляемый из его активности.
type CustomerStatus string

const (
	CustomerStatusNew      CustomerStatus = "new"
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusVIP      CustomerStatus = "vip"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Customer содержит данные покупателя. Счётчики покупок и трат — кэш,
// восстанавливаемый из таблицы продаж.
type Customer struct {
	Email          string
	FirstName      string
	LastName       string
	FirstSeenAt    time.Time
	Purchases      int64
	SpentCents     int64
	LastActivityAt time.Time
}

const (
	vipMinPurchases  = 5
	vipMinSpentCents = 10000
	newCustomerAge   = 30 * 24 * time.Hour
	inactiveIdle     = 90 * 24 * time.Hour
)

// Status вычисляет сегмент покупателя на момент now. Сегмент не хранится:
// источником истины служат строки продаж.
func (c Customer) Status(now time.Time) CustomerStatus {
	if c.Purchases >= vipMinPurchases || c.SpentCents >= vipMinSpentCents {
		return CustomerStatusVIP
	}
	if !c.LastActivityAt.IsZero() && now.Sub(c.LastActivityAt) > inactiveIdle {
		return CustomerStatusInactive
	}
	if now.Sub(c.FirstSeenAt) < newCustomerAge {
		return CustomerStatusNew
	}
	return CustomerStatusActive
}

// DayTrend описывает показатели одного дня внутри недельного отчёта.
type DayTrend struct {
	Date         string  `json:"date"`
	Products     int     `json:"products"`
	AvgQuality   float64 `json:"avg_quality"`
	RevenueCents int64   `json:"revenue"`
}

// NicheStats содержит агрегированные показатели одной ниши.
type NicheStats struct {
	Niche          string  `json:"niche"`
	Products       int     `json:"products"`
	AvgQuality     float64 `json:"avg_quality"`
	AvgPriceCents  int64   `json:"avg_price"`
	Sales          int     `json:"sales"`
	RevenueCents   int64   `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Report содержит сводку за день или за скользящее окно. Отчёт производен
// от таблиц товаров и продаж и полностью пересчитываем.
type Report struct {
	From           string       `json:"from"`
	To             string       `json:"to"`
	Products       int          `json:"products"`
	RevenueCents   int64        `json:"revenue"`
	Sales          int          `json:"sales"`
	AvgQuality     float64      `json:"avg_quality"`
	OrganicQuality float64      `json:"organic_quality,omitempty"`
	TopNiche       string       `json:"top_niche"`
	ConversionRate float64      `json:"conversion_rate"`
	Trend          []DayTrend   `json:"trend,omitempty"`
	TopNiches      []NicheStats `json:"top_niches,omitempty"`
}

// Confidence описывает уровень доверия к прогнозу выручки.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Prediction содержит наивный линейный прогноз выручки: средняя дневная
// выручка, умноженная на горизонт. Сезонность не моделируется, прогноз
// не является гарантией.
type Prediction struct {
	DaysAhead           int        `json:"days_ahead"`
	AvgDailyCents       int64      `json:"avg_daily_revenue"`
	PredictedTotalCents int64      `json:"predicted_total_revenue"`
	HistoryDays         int        `json:"history_days"`
	Confidence          Confidence `json:"confidence"`
}

// CycleState описывает текущее состояние конвейера.
type CycleState string

const (
	CycleStateIdle       CycleState = "idle"
	CycleStateGenerating CycleState = "generating"
	CycleStateFiltering  CycleState = "filtering"
	CycleStatePublishing CycleState = "publishing"
	CycleStateRecording  CycleState = "recording"
	CycleStateNotifying  CycleState = "notifying"
	CycleStateFailed     CycleState = "failed"
)

// CycleSummary содержит итоги одного цикла конвейера. Сводка формируется
// всегда, в том числе для пустого или неудавшегося цикла. Каждый принятый
// товар попадает ровно в один из счётчиков Published, Failed или Skipped.
type CycleSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Generated  int       `json:"generated"`
	Rejected   int       `json:"rejected"`
	Published  int       `json:"published"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Fallback   bool      `json:"fallback"`
	Reason     string    `json:"reason,omitempty"`
}
