// Package pipeline реализует цикл автоматизации: генерация черновиков,
// отбор по качеству, публикация, запись результатов и уведомление.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/config"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/marketplace"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/scorer"
)

// ErrCycleRunning возвращается при попытке запустить цикл, пока предыдущий
// не завершён. Циклы никогда не выполняются параллельно.
var ErrCycleRunning = errors.New("cycle already running")

// maxSummaries ограничивает размер истории сводок в памяти.
const maxSummaries = 20

// Generator описывает контракт сервиса генерации черновиков.
type Generator interface {
	Generate(ctx context.Context, niche string, count int) ([]model.Draft, error)
}

// Fallback описывает контракт резервного генератора.
type Fallback interface {
	Generate(niche string, keywords []string, count int) []model.Draft
}

// Publisher описывает контракт публикации товара на маркетплейсе.
type Publisher interface {
	Publish(ctx context.Context, item model.Item) (string, error)
}

// Notifier описывает контракт отправки сводки цикла оператору.
type Notifier interface {
	Notify(ctx context.Context, summary model.CycleSummary) error
}

// Store описывает контракт хранилища, используемый конвейером.
type Store interface {
	InsertItem(ctx context.Context, item model.Item) (bool, error)
	ItemExists(ctx context.Context, fingerprint string) (bool, error)
}

// ScoreFunc оценивает качество черновика.
type ScoreFunc func(draft model.Draft) (float64, error)

// Pipeline управляет циклом автоматизации. Одновременно выполняется не
// более одного цикла.
type Pipeline struct {
	cfg       *config.Config
	generator Generator
	fallback  Fallback
	score     ScoreFunc
	publisher Publisher
	notifier  Notifier
	store     Store
	logger    *zap.Logger

	running atomic.Bool

	mu        sync.Mutex
	state     model.CycleState
	summaries []model.CycleSummary
}

// New создаёт конвейер с указанными коллабораторами.
func New(cfg *config.Config, generator Generator, fallback Fallback, score ScoreFunc,
	publisher Publisher, notifier Notifier, store Store, logger *zap.Logger) *Pipeline {
	if score == nil {
		score = scorer.Score
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:       cfg,
		generator: generator,
		fallback:  fallback,
		score:     score,
		publisher: publisher,
		notifier:  notifier,
		store:     store,
		logger:    logger,
		state:     model.CycleStateIdle,
	}
}

// State возвращает текущее состояние конвейера.
func (p *Pipeline) State() model.CycleState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s model.CycleState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Summaries возвращает сводки последних циклов, новые первыми.
func (p *Pipeline) Summaries() []model.CycleSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]model.CycleSummary, len(p.summaries))
	for i, s := range p.summaries {
		res[len(p.summaries)-1-i] = s
	}
	return res
}

func (p *Pipeline) pushSummary(s model.CycleSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.summaries = append(p.summaries, s)
	if len(p.summaries) > maxSummaries {
		p.summaries = p.summaries[len(p.summaries)-maxSummaries:]
	}
}

// Fingerprint вычисляет отпечаток содержимого товара. Метка времени берётся
// с точностью до дня: повторный запуск цикла в тот же день даёт тот же
// отпечаток и не порождает дубликатов после сбоя.
func Fingerprint(niche, template string, generatedAt time.Time) string {
	day := generatedAt.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(niche + "|" + template + "|" + day))
	return hex.EncodeToString(sum[:])
}

// Run выполняет один цикл автоматизации и возвращает его сводку.
// Сводка формируется всегда, даже для пустого или неудавшегося цикла.
// Ошибка возвращается только при недоступности хранилища или повторном запуске.
func (p *Pipeline) Run(ctx context.Context) (model.CycleSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return model.CycleSummary{}, ErrCycleRunning
	}
	defer p.running.Store(false)

	summary := model.CycleSummary{StartedAt: time.Now()}

	drafts := p.generate(ctx, &summary)
	items := p.filter(drafts, &summary)

	err := p.publishAndRecord(ctx, items, &summary)

	summary.FinishedAt = time.Now()

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Прерывание — не отказ хранилища: цикл остаётся перезапускаемым.
		summary.Reason = err.Error()
		p.setState(model.CycleStateIdle)
	case err != nil:
		summary.Reason = err.Error()
		p.setState(model.CycleStateFailed)
	default:
		p.setState(model.CycleStateNotifying)
	}

	if summary.Generated == 0 && summary.Reason == "" {
		summary.Reason = "no drafts generated"
	}

	p.notify(summary)
	p.pushSummary(summary)

	if err != nil {
		return summary, err
	}

	p.setState(model.CycleStateIdle)
	return summary, nil
}

// generate собирает черновики по всем нишам конкурентно. Сбой отдельной
// ниши не прерывает цикл. Если недоступны все ниши, включается резервная
// шаблонная генерация с пометкой происхождения.
func (p *Pipeline) generate(ctx context.Context, summary *model.CycleSummary) []model.Draft {
	p.setState(model.CycleStateGenerating)

	var (
		mu     sync.Mutex
		drafts []model.Draft
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, niche := range p.cfg.Niches {
		niche := niche
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.ExternalTimeout)
			defer cancel()

			res, err := p.generator.Generate(callCtx, niche, p.cfg.DraftsPerNiche)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				p.logger.Warn("niche generation failed", zap.String("niche", niche), zap.Error(err))
				return nil
			}

			drafts = append(drafts, res...)
			return nil
		})
	}

	_ = g.Wait()

	if failed == len(p.cfg.Niches) && len(p.cfg.Niches) > 0 {
		p.logger.Warn("generation service unavailable for all niches, falling back to templates")
		summary.Fallback = true

		drafts = drafts[:0]
		for _, niche := range p.cfg.Niches {
			drafts = append(drafts, p.fallback.Generate(niche, p.cfg.NicheKeywords(niche), p.cfg.DraftsPerNiche)...)
		}
	}

	summary.Generated = len(drafts)
	return drafts
}

// filter оценивает черновики и отбрасывает не прошедшие порог качества.
// Товар с оценкой ниже порога никогда не попадает в публикацию.
func (p *Pipeline) filter(drafts []model.Draft, summary *model.CycleSummary) []model.Item {
	p.setState(model.CycleStateFiltering)

	now := time.Now()
	items := make([]model.Item, 0, len(drafts))

	for _, d := range drafts {
		score, err := p.score(d)
		if err != nil {
			// Дефект генерации, а не низкое качество.
			summary.Rejected++
			p.logger.Warn("invalid draft", zap.String("niche", d.Niche), zap.Error(err))
			continue
		}

		if score < p.cfg.MinQualityScore {
			summary.Rejected++
			continue
		}

		items = append(items, model.Item{
			ID:           uuid.NewString(),
			Niche:        d.Niche,
			Title:        d.Title,
			Body:         d.Body,
			Template:     d.Template,
			Source:       d.Source,
			QualityScore: score,
			PriceCents:   p.cfg.PriceFor(d.Niche, score),
			Fingerprint:  Fingerprint(d.Niche, d.Template, now),
			CreatedAt:    now,
		})
	}

	return items
}

// publishAndRecord публикует отобранные товары и записывает результаты.
// Возвращает ошибку только при недоступности хранилища: остальные сбои
// деградируют до меньшего успешного цикла.
func (p *Pipeline) publishAndRecord(ctx context.Context, items []model.Item, summary *model.CycleSummary) error {
	p.setState(model.CycleStatePublishing)

	for _, item := range items {
		// Цикл можно прервать между товарами, но не посреди записи.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle aborted: %w", err)
		}

		exists, err := p.store.ItemExists(ctx, item.Fingerprint)
		if err != nil {
			return fmt.Errorf("store unavailable: %w", err)
		}
		if exists {
			summary.Skipped++
			p.logger.Info("duplicate fingerprint, skipping publish",
				zap.String("niche", item.Niche), zap.String("fingerprint", item.Fingerprint))
			continue
		}

		externalID, err := p.publishWithRetry(ctx, item)
		if err != nil {
			summary.Failed++

			var rejected *marketplace.RejectedError
			if errors.As(err, &rejected) {
				p.logger.Warn("item rejected by marketplace",
					zap.String("title", item.Title), zap.Int("status", rejected.StatusCode),
					zap.String("reason", rejected.Reason))
			} else {
				p.logger.Warn("publish failed", zap.String("title", item.Title), zap.Error(err))
			}
			continue
		}

		p.setState(model.CycleStateRecording)

		item.ExternalID = &externalID
		inserted, err := p.store.InsertItem(ctx, item)
		if err != nil {
			return fmt.Errorf("store unavailable: %w", err)
		}
		if !inserted {
			// Конкурентный цикл успел записать тот же отпечаток.
			summary.Skipped++
			p.logger.Info("item already recorded", zap.String("fingerprint", item.Fingerprint))
			continue
		}

		summary.Published++
		p.setState(model.CycleStatePublishing)
	}

	return nil
}

// publishWithRetry публикует товар с экспоненциальным бэкоффом для
// временных сбоев. Окончательные отказы не ретраятся.
func (p *Pipeline) publishWithRetry(ctx context.Context, item model.Item) (string, error) {
	backoff := retry.WithMaxRetries(uint64(p.cfg.PublishRetries), retry.NewExponential(500*time.Millisecond))

	var externalID string

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ExternalTimeout)
		defer cancel()

		id, err := p.publisher.Publish(callCtx, item)
		if err != nil {
			if errors.Is(err, marketplace.ErrTransient) {
				return retry.RetryableError(err)
			}
			return err
		}

		externalID = id
		return nil
	})
	if err != nil {
		return "", err
	}

	return externalID, nil
}

// notify отправляет сводку оператору. Сбой отправки логируется и
// не влияет на статус цикла.
func (p *Pipeline) notify(summary model.CycleSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExternalTimeout)
	defer cancel()

	if err := p.notifier.Notify(ctx, summary); err != nil {
		p.logger.Warn("notification failed", zap.Error(err))
	}
}

// Trigger запускает цикл в фоне. Возвращает ErrCycleRunning, если цикл уже
// выполняется: повторные запросы отклоняются, а не ставятся в очередь.
func (p *Pipeline) Trigger(ctx context.Context) error {
	if p.running.Load() {
		return ErrCycleRunning
	}

	go func() {
		if _, err := p.Run(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
			p.logger.Error("triggered cycle failed", zap.Error(err))
		}
	}()

	return nil
}

// StartSchedule запускает фоновый процесс периодического выполнения циклов.
func (p *Pipeline) StartSchedule(ctx context.Context) {
	if p.cfg.CycleInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(p.cfg.CycleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				summary, err := p.Run(ctx)
				if err != nil {
					if errors.Is(err, ErrCycleRunning) {
						continue
					}
					p.logger.Error("scheduled cycle failed", zap.Error(err))
					continue
				}
				p.logger.Info("scheduled cycle finished",
					zap.Int("generated", summary.Generated),
					zap.Int("rejected", summary.Rejected),
					zap.Int("published", summary.Published),
					zap.Int("failed", summary.Failed),
					zap.Int("skipped", summary.Skipped))
			}
		}
	}()
}
