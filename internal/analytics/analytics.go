// Package analytics строит отчёты и прогнозы по данным хранилища.
// Все функции — чтение и агрегация: хранилище не изменяется, любой отчёт
// пересчитываем из таблиц товаров и продаж.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

// Store описывает контракт чтения данных, используемый аналитикой.
type Store interface {
	ItemsCreatedBetween(ctx context.Context, from, to time.Time) ([]model.Item, error)
	SalesBetween(ctx context.Context, from, to time.Time) ([]model.Sale, error)
	AllItems(ctx context.Context) ([]model.Item, error)
	AllSales(ctx context.Context) ([]model.Sale, error)
	Customers(ctx context.Context) ([]model.Customer, error)
}

// Engine вычисляет отчёты по данным хранилища.
type Engine struct {
	store Store
}

// NewEngine создаёт аналитический движок над указанным хранилищем.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

const dateLayout = "2006-01-02"

func dayBounds(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// DailyReport строит отчёт за календарный день (UTC).
// Для пустого дня возвращается нулевой отчёт, а не ошибка.
func (e *Engine) DailyReport(ctx context.Context, date time.Time) (model.Report, error) {
	from, to := dayBounds(date)

	items, err := e.store.ItemsCreatedBetween(ctx, from, to)
	if err != nil {
		return model.Report{}, fmt.Errorf("load items: %w", err)
	}

	sales, err := e.store.SalesBetween(ctx, from, to)
	if err != nil {
		return model.Report{}, fmt.Errorf("load sales: %w", err)
	}

	report := model.Report{
		From:     from.Format(dateLayout),
		To:       from.Format(dateLayout),
		Products: len(items),
		Sales:    len(sales),
	}

	for _, s := range sales {
		report.RevenueCents += s.AmountCents
	}

	report.AvgQuality = avgQuality(items, false)
	report.TopNiche = topNicheByCount(items)
	report.ConversionRate = conversionRate(items, sales)

	return report, nil
}

// WeeklyReport строит отчёт за скользящее окно в 7 дней, заканчивающееся
// указанной датой, с дневным трендом и разбивкой по нишам.
func (e *Engine) WeeklyReport(ctx context.Context, end time.Time) (model.Report, error) {
	endStart, endNext := dayBounds(end)
	from := endStart.AddDate(0, 0, -6)

	items, err := e.store.ItemsCreatedBetween(ctx, from, endNext)
	if err != nil {
		return model.Report{}, fmt.Errorf("load items: %w", err)
	}

	sales, err := e.store.SalesBetween(ctx, from, endNext)
	if err != nil {
		return model.Report{}, fmt.Errorf("load sales: %w", err)
	}

	// Ниши товаров вне окна нужны для атрибуции их продаж.
	allItems, err := e.store.AllItems(ctx)
	if err != nil {
		return model.Report{}, fmt.Errorf("load item index: %w", err)
	}

	report := model.Report{
		From:     from.Format(dateLayout),
		To:       endStart.Format(dateLayout),
		Products: len(items),
		Sales:    len(sales),
	}

	for _, s := range sales {
		report.RevenueCents += s.AmountCents
	}

	report.AvgQuality = avgQuality(items, false)
	// Органическое качество считается только по товарам от сервиса
	// генерации: шаблонные товары исключаются из тренда.
	report.OrganicQuality = avgQuality(items, true)
	report.TopNiche = topNicheByCount(items)
	report.ConversionRate = conversionRate(items, sales)
	report.Trend = dailyTrend(from, 7, items, sales)
	report.TopNiches = topNichesByRevenue(items, sales, allItems, 5)

	return report, nil
}

// NichePerformance возвращает показатели всех ниш, в которых создавался
// хотя бы один товар, по убыванию выручки.
func (e *Engine) NichePerformance(ctx context.Context) ([]model.NicheStats, error) {
	items, err := e.store.AllItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	sales, err := e.store.AllSales(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sales: %w", err)
	}

	return topNichesByRevenue(items, sales, items, 0), nil
}

// predictionWindowDays — скользящее окно истории для прогноза.
const predictionWindowDays = 14

// Пороги уровней доверия прогноза.
const (
	highConfidenceDays   = 30
	mediumConfidenceDays = 7
	maxVariationCoeff    = 0.5
)

// PredictRevenue строит наивный линейный прогноз выручки: средняя дневная
// выручка за скользящее окно, умноженная на горизонт. Сезонность не
// моделируется; прогноз не является гарантией.
func (e *Engine) PredictRevenue(ctx context.Context, daysAhead int) (model.Prediction, error) {
	sales, err := e.store.AllSales(ctx)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("load sales: %w", err)
	}

	prediction := model.Prediction{
		DaysAhead:  daysAhead,
		Confidence: model.ConfidenceLow,
	}

	daily := dailyRevenue(sales)
	prediction.HistoryDays = len(daily)

	if len(daily) == 0 {
		return prediction, nil
	}

	window := daily
	if len(window) > predictionWindowDays {
		window = window[len(window)-predictionWindowDays:]
	}

	var sum int64
	for _, v := range window {
		sum += v
	}
	prediction.AvgDailyCents = sum / int64(len(window))

	if daysAhead > 0 {
		prediction.PredictedTotalCents = prediction.AvgDailyCents * int64(daysAhead)
	}

	switch {
	case len(daily) >= highConfidenceDays && variationCoeff(window) < maxVariationCoeff:
		prediction.Confidence = model.ConfidenceHigh
	case len(daily) >= mediumConfidenceDays:
		prediction.Confidence = model.ConfidenceMedium
	}

	return prediction, nil
}

// CustomerOverview содержит сводку по базе покупателей.
type CustomerOverview struct {
	Total      int                          `json:"total"`
	SpentCents int64                        `json:"total_spent"`
	Segments   map[model.CustomerStatus]int `json:"segments"`
}

// Customers возвращает сводку по покупателям. Сегменты вычисляются из
// активности на текущий момент, а не читаются из хранилища.
func (e *Engine) Customers(ctx context.Context) (CustomerOverview, error) {
	customers, err := e.store.Customers(ctx)
	if err != nil {
		return CustomerOverview{}, fmt.Errorf("load customers: %w", err)
	}

	return customerOverview(customers, time.Now()), nil
}

func customerOverview(customers []model.Customer, now time.Time) CustomerOverview {
	overview := CustomerOverview{
		Segments: make(map[model.CustomerStatus]int),
	}

	for _, c := range customers {
		overview.Total++
		overview.SpentCents += c.SpentCents
		overview.Segments[c.Status(now)]++
	}

	return overview
}

// avgQuality возвращает среднюю оценку качества. При organicOnly шаблонные
// товары не учитываются.
func avgQuality(items []model.Item, organicOnly bool) float64 {
	var sum float64
	var count int

	for _, it := range items {
		if organicOnly && it.Source != model.DraftSourceService {
			continue
		}
		sum += it.QualityScore
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func topNicheByCount(items []model.Item) string {
	if len(items) == 0 {
		return ""
	}

	counts := make(map[string]int)
	for _, it := range items {
		counts[it.Niche]++
	}

	var top string
	var topCount int
	for niche, count := range counts {
		if count > topCount || (count == topCount && niche < top) {
			top = niche
			topCount = count
		}
	}
	return top
}

// conversionRate считает продажи товаров, созданных в окне, делённые на
// число созданных в окне товаров. Повторные покупки могут дать значение
// больше единицы; при нуле товаров возвращается ноль.
func conversionRate(items []model.Item, sales []model.Sale) float64 {
	if len(items) == 0 {
		return 0
	}

	ids := make(map[string]struct{}, len(items))
	for _, it := range items {
		ids[it.ID] = struct{}{}
	}

	attributed := 0
	for _, s := range sales {
		if _, ok := ids[s.ItemID]; ok {
			attributed++
		}
	}

	return float64(attributed) / float64(len(items))
}

func dailyTrend(from time.Time, days int, items []model.Item, sales []model.Sale) []model.DayTrend {
	trend := make([]model.DayTrend, days)
	index := make(map[string]int, days)

	for i := 0; i < days; i++ {
		day := from.AddDate(0, 0, i).Format(dateLayout)
		trend[i] = model.DayTrend{Date: day}
		index[day] = i
	}

	qualitySums := make([]float64, days)

	for _, it := range items {
		if i, ok := index[it.CreatedAt.UTC().Format(dateLayout)]; ok {
			trend[i].Products++
			qualitySums[i] += it.QualityScore
		}
	}

	for _, s := range sales {
		if i, ok := index[s.SoldAt.UTC().Format(dateLayout)]; ok {
			trend[i].RevenueCents += s.AmountCents
		}
	}

	for i := range trend {
		if trend[i].Products > 0 {
			trend[i].AvgQuality = qualitySums[i] / float64(trend[i].Products)
		}
	}

	return trend
}

// topNichesByRevenue агрегирует показатели ниш. Продажи атрибуцируются
// нише товара по индексу allItems; limit 0 означает без ограничения.
func topNichesByRevenue(items []model.Item, sales []model.Sale, allItems []model.Item, limit int) []model.NicheStats {
	nicheByItem := make(map[string]string, len(allItems))
	for _, it := range allItems {
		nicheByItem[it.ID] = it.Niche
	}

	stats := make(map[string]*model.NicheStats)
	qualitySums := make(map[string]float64)

	for _, it := range items {
		st, ok := stats[it.Niche]
		if !ok {
			st = &model.NicheStats{Niche: it.Niche}
			stats[it.Niche] = st
		}
		st.Products++
		qualitySums[it.Niche] += it.QualityScore
	}

	for _, s := range sales {
		niche, ok := nicheByItem[s.ItemID]
		if !ok {
			continue
		}
		st, ok := stats[niche]
		if !ok {
			// Ниша без товаров в окне: продажи учитываются, только
			// если в ней когда-либо создавался товар.
			st = &model.NicheStats{Niche: niche}
			stats[niche] = st
		}
		st.Sales++
		st.RevenueCents += s.AmountCents
	}

	res := make([]model.NicheStats, 0, len(stats))
	for niche, st := range stats {
		if st.Products > 0 {
			st.AvgQuality = qualitySums[niche] / float64(st.Products)
			st.ConversionRate = float64(st.Sales) / float64(st.Products)
		}
		if st.Sales > 0 {
			st.AvgPriceCents = st.RevenueCents / int64(st.Sales)
		}
		res = append(res, *st)
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].RevenueCents != res[j].RevenueCents {
			return res[i].RevenueCents > res[j].RevenueCents
		}
		return res[i].Niche < res[j].Niche
	})

	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}

	return res
}

// dailyRevenue группирует выручку по дням с продажами, по возрастанию даты.
func dailyRevenue(sales []model.Sale) []int64 {
	byDay := make(map[string]int64)
	for _, s := range sales {
		byDay[s.SoldAt.UTC().Format(dateLayout)] += s.AmountCents
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	res := make([]int64, 0, len(days))
	for _, day := range days {
		res = append(res, byDay[day])
	}
	return res
}

func variationCoeff(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var sqDiff float64
	for _, v := range values {
		d := float64(v) - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(values)))

	return stddev / mean
}
