// Package handler содержит HTTP-обработчики операторского API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/analytics"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/middleware"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/pipeline"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/repository"
)

// Automation определяет контракт конвейера, используемый HTTP-обработчиками.
type Automation interface {
	Trigger(ctx context.Context) error
	State() model.CycleState
	Summaries() []model.CycleSummary
}

// Analytics определяет контракт аналитического движка.
type Analytics interface {
	DailyReport(ctx context.Context, date time.Time) (model.Report, error)
	WeeklyReport(ctx context.Context, end time.Time) (model.Report, error)
	NichePerformance(ctx context.Context) ([]model.NicheStats, error)
	PredictRevenue(ctx context.Context, daysAhead int) (model.Prediction, error)
	Customers(ctx context.Context) (analytics.CustomerOverview, error)
}

// SaleRecorder определяет контракт записи продаж.
type SaleRecorder interface {
	InsertSale(ctx context.Context, sale model.Sale) (int64, error)
}

// Handler реализует HTTP-обработчики операторского API.
type Handler struct {
	automation     Automation
	analytics      Analytics
	sales          SaleRecorder
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(automation Automation, analytics Analytics, sales SaleRecorder,
	logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		automation:     automation,
		analytics:      analytics,
		sales:          sales,
		logger:         logger,
		authMiddleware: auth,
	}
}

const dateLayout = "2006-01-02"

// parseDate читает дату из query-параметра; пустое значение означает сегодня.
func parseDate(r *http.Request, param string) (time.Time, error) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(dateLayout, raw)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type statusResponse struct {
	State     model.CycleState     `json:"state"`
	Summaries []model.CycleSummary `json:"recent_cycles"`
}

// GetStatus возвращает состояние конвейера и сводки последних циклов.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, statusResponse{
		State:     h.automation.State(),
		Summaries: h.automation.Summaries(),
	})
}

// TriggerCycle запускает цикл автоматизации вне расписания.
// Пока цикл выполняется, повторный запуск отклоняется, а не ставится в очередь.
func (h *Handler) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	// Цикл переживает HTTP-запрос, которым был запущен.
	err := h.automation.Trigger(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, pipeline.ErrCycleRunning) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("trigger cycle error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type saleRequest struct {
	ItemID        string `json:"product_id"`
	AmountCents   int64  `json:"amount"`
	CustomerEmail string `json:"customer_email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Channel       string `json:"channel"`
}

// RecordSale принимает webhook маркетплейса о продаже товара.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ItemID == "" || req.CustomerEmail == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sale := model.Sale{
		ItemID:        req.ItemID,
		AmountCents:   req.AmountCents,
		CustomerEmail: req.CustomerEmail,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Channel:       req.Channel,
		SoldAt:        time.Now().UTC(),
	}

	id, err := h.sales.InsertSale(r.Context(), sale)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrItemNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrNegativeAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("record sale error", zap.Error(err), zap.String("product", req.ItemID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]int64{"id": id}); err != nil {
		h.logger.Error("encode sale response error", zap.Error(err))
	}
}

// GetDailyReport возвращает отчёт за календарный день (параметр date,
// по умолчанию сегодня).
func (h *Handler) GetDailyReport(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r, "date")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	report, err := h.analytics.DailyReport(r.Context(), date)
	if err != nil {
		h.logger.Error("daily report error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, report)
}

// GetWeeklyReport возвращает отчёт за 7 дней, заканчивающихся датой end
// (по умолчанию сегодня).
func (h *Handler) GetWeeklyReport(w http.ResponseWriter, r *http.Request) {
	end, err := parseDate(r, "end")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	report, err := h.analytics.WeeklyReport(r.Context(), end)
	if err != nil {
		h.logger.Error("weekly report error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, report)
}

// GetNiches возвращает показатели всех ниш по убыванию выручки.
func (h *Handler) GetNiches(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analytics.NichePerformance(r.Context())
	if err != nil {
		h.logger.Error("niche performance error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(stats) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, stats)
}

const defaultPredictDays = 30

// GetPrediction возвращает прогноз выручки на days дней вперёд
// (по умолчанию 30).
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	days := defaultPredictDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		days = parsed
	}

	prediction, err := h.analytics.PredictRevenue(r.Context(), days)
	if err != nil {
		h.logger.Error("predict revenue error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, prediction)
}

// GetCustomers возвращает сводку по базе покупателей.
func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	overview, err := h.analytics.Customers(r.Context())
	if err != nil {
		h.logger.Error("customers overview error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, overview)
}
