package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/config"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/marketplace"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/scorer"
)

func testConfig(niches ...string) *config.Config {
	if len(niches) == 0 {
		niches = []string{"Business & Marketing"}
	}
	return &config.Config{
		Niches:          niches,
		DraftsPerNiche:  3,
		MinQualityScore: 0.8,
		PublishRetries:  2,
		ExternalTimeout: time.Second,
	}
}

// titleScore читает оценку из заголовка черновика вида "q=0.95".
func titleScore(d model.Draft) (float64, error) {
	if d.Body == "" {
		return 0, scorer.ErrInvalidDraft
	}
	v, err := strconv.ParseFloat(d.Title[len("q="):], 64)
	if err != nil {
		return 0.9, nil
	}
	return v, nil
}

func draftWithScore(niche, template string, score float64) model.Draft {
	return model.Draft{
		Niche:    niche,
		Title:    fmt.Sprintf("q=%v", score),
		Body:     "body",
		Template: template,
		Source:   model.DraftSourceService,
	}
}

type stubGenerator struct {
	drafts map[string][]model.Draft
	errs   map[string]error
}

func (g *stubGenerator) Generate(ctx context.Context, niche string, count int) ([]model.Draft, error) {
	if err, ok := g.errs[niche]; ok {
		return nil, err
	}
	return g.drafts[niche], nil
}

type stubFallback struct {
	called bool
}

func (f *stubFallback) Generate(niche string, keywords []string, count int) []model.Draft {
	f.called = true
	drafts := make([]model.Draft, 0, count)
	for i := 0; i < count; i++ {
		drafts = append(drafts, model.Draft{
			Niche:    niche,
			Title:    "q=0.85",
			Body:     "template body",
			Template: fmt.Sprintf("Template %d", i),
			Source:   model.DraftSourceTemplate,
		})
	}
	return drafts
}

type stubPublisher struct {
	mu        sync.Mutex
	published []model.Item
	calls     int
	errs      []error
	block     chan struct{}
}

func (p *stubPublisher) Publish(ctx context.Context, item model.Item) (string, error) {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return "", err
		}
	}

	p.published = append(p.published, item)
	return fmt.Sprintf("ext-%d", len(p.published)), nil
}

type stubNotifier struct {
	mu        sync.Mutex
	summaries []model.CycleSummary
	err       error
}

func (n *stubNotifier) Notify(ctx context.Context, summary model.CycleSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return n.err
}

func (n *stubNotifier) last() (model.CycleSummary, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.summaries) == 0 {
		return model.CycleSummary{}, false
	}
	return n.summaries[len(n.summaries)-1], true
}

type stubStore struct {
	mu        sync.Mutex
	items     map[string]model.Item
	insertErr error
	existsErr error
}

func newStubStore() *stubStore {
	return &stubStore{items: map[string]model.Item{}}
}

func (s *stubStore) InsertItem(ctx context.Context, item model.Item) (bool, error) {
	if s.insertErr != nil {
		return false, s.insertErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.Fingerprint]; ok {
		return false, nil
	}
	s.items[item.Fingerprint] = item
	return true, nil
}

func (s *stubStore) ItemExists(ctx context.Context, fingerprint string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[fingerprint]
	return ok, nil
}

func newTestPipeline(gen Generator, pub Publisher, store Store, notifier Notifier, cfg *config.Config) *Pipeline {
	return New(cfg, gen, &stubFallback{}, titleScore, pub, notifier, store, nil)
}

func TestRun_ScenarioQualityThreshold(t *testing.T) {
	// Три черновика с оценками 0.9, 0.5 и 0.95 при пороге 0.8:
	// публикуются ровно два.
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {
			draftWithScore("Business & Marketing", "A", 0.9),
			draftWithScore("Business & Marketing", "B", 0.5),
			draftWithScore("Business & Marketing", "C", 0.95),
		},
	}}
	pub := &stubPublisher{}
	store := newStubStore()

	p := newTestPipeline(gen, pub, store, &stubNotifier{}, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Generated != 3 || summary.Rejected != 1 || summary.Published != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	for _, item := range pub.published {
		if item.QualityScore < 0.8 {
			t.Fatalf("item below threshold was published: %+v", item)
		}
	}
}

func TestRun_RejectedNeverPublished(t *testing.T) {
	// Свойство: товар с оценкой ниже порога никогда не публикуется,
	// при любом распределении оценок.
	scores := []float64{0.1, 0.25, 0.5, 0.79, 0.8, 0.81, 0.95, 1.0, 0.3, 0.6}

	drafts := make([]model.Draft, 0, len(scores))
	for i, s := range scores {
		drafts = append(drafts, draftWithScore("Business & Marketing", fmt.Sprintf("T%d", i), s))
	}

	gen := &stubGenerator{drafts: map[string][]model.Draft{"Business & Marketing": drafts}}
	pub := &stubPublisher{}

	p := newTestPipeline(gen, pub, newStubStore(), &stubNotifier{}, testConfig())

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	wantPublished := 0
	for _, s := range scores {
		if s >= 0.8 {
			wantPublished++
		}
	}

	if len(pub.published) != wantPublished {
		t.Fatalf("published %d items, want %d", len(pub.published), wantPublished)
	}
	for _, item := range pub.published {
		if item.QualityScore < 0.8 {
			t.Fatalf("item below threshold was published: %+v", item)
		}
	}
}

func TestRun_IdempotentRerun(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {
			draftWithScore("Business & Marketing", "A", 0.9),
			draftWithScore("Business & Marketing", "B", 0.9),
		},
	}}
	pub := &stubPublisher{}
	store := newStubStore()

	p := newTestPipeline(gen, pub, store, &stubNotifier{}, testConfig())

	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if first.Published != 2 {
		t.Fatalf("first run published = %d, want 2", first.Published)
	}

	// Повтор цикла в тот же день: отпечатки уже записаны, дубликатов нет.
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if second.Published != 0 {
		t.Fatalf("second run published = %d, want 0", second.Published)
	}
	if second.Skipped != 2 {
		t.Fatalf("second run skipped = %d, want 2", second.Skipped)
	}
	if len(store.items) != 2 {
		t.Fatalf("store has %d items, want 2", len(store.items))
	}
}

func TestRun_DuplicateDraftsWithinCycleCounted(t *testing.T) {
	// Два черновика с одинаковой нишей и шаблоном дают один отпечаток:
	// публикуется один, второй учитывается как пропущенный.
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {
			draftWithScore("Business & Marketing", "A", 0.9),
			draftWithScore("Business & Marketing", "A", 0.95),
		},
	}}
	pub := &stubPublisher{}
	store := newStubStore()

	p := newTestPipeline(gen, pub, store, &stubNotifier{}, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Published != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := summary.Published + summary.Failed + summary.Skipped + summary.Rejected; got != summary.Generated {
		t.Fatalf("counters sum to %d, generated %d", got, summary.Generated)
	}
	if len(store.items) != 1 {
		t.Fatalf("store has %d items, want 1", len(store.items))
	}
}

func TestRun_FallbackWhenAllNichesFail(t *testing.T) {
	niches := []string{"Business & Marketing", "Personal Productivity"}
	gen := &stubGenerator{errs: map[string]error{
		"Business & Marketing":  errors.New("unavailable"),
		"Personal Productivity": errors.New("unavailable"),
	}}
	pub := &stubPublisher{}
	notifier := &stubNotifier{}
	fallback := &stubFallback{}

	cfg := testConfig(niches...)
	p := New(cfg, gen, fallback, titleScore, pub, notifier, newStubStore(), nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if !fallback.called {
		t.Fatalf("fallback generator was not used")
	}
	if !summary.Fallback {
		t.Fatalf("summary must be flagged as fallback")
	}
	if summary.Generated == 0 {
		t.Fatalf("fallback cycle must still generate drafts")
	}

	for _, item := range pub.published {
		if item.Source != model.DraftSourceTemplate {
			t.Fatalf("fallback item source = %s", item.Source)
		}
	}
}

func TestRun_PartialNicheFailure(t *testing.T) {
	gen := &stubGenerator{
		drafts: map[string][]model.Draft{
			"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
		},
		errs: map[string]error{
			"Personal Productivity": errors.New("unavailable"),
		},
	}
	fallback := &stubFallback{}

	cfg := testConfig("Business & Marketing", "Personal Productivity")
	p := New(cfg, gen, fallback, titleScore, &stubPublisher{}, &stubNotifier{}, newStubStore(), nil)

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if fallback.called {
		t.Fatalf("fallback must not trigger on partial failure")
	}
	if summary.Fallback {
		t.Fatalf("summary must not be flagged as fallback")
	}
	if summary.Generated != 1 || summary.Published != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRun_StoreUnavailableFailsCycle(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	store := newStubStore()
	store.existsErr = errors.New("connection refused")
	notifier := &stubNotifier{}

	p := newTestPipeline(gen, &stubPublisher{}, store, notifier, testConfig())

	summary, err := p.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for unavailable store")
	}

	if p.State() != model.CycleStateFailed {
		t.Fatalf("state = %s, want %s", p.State(), model.CycleStateFailed)
	}
	if summary.Reason == "" {
		t.Fatalf("failed cycle must carry a reason")
	}

	// Сводка отправляется даже для неудавшегося цикла.
	if _, ok := notifier.last(); !ok {
		t.Fatalf("failed cycle must still be reported")
	}
}

func TestRun_PermanentRejectionNotRetried(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	pub := &stubPublisher{errs: []error{
		&marketplace.RejectedError{StatusCode: 422, Reason: "bad title"},
	}}

	p := newTestPipeline(gen, pub, newStubStore(), &stubNotifier{}, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if pub.calls != 1 {
		t.Fatalf("publish calls = %d, want 1 (no retry on rejection)", pub.calls)
	}
	if summary.Failed != 1 || summary.Published != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRun_TransientFailureRetriedThenPublished(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	pub := &stubPublisher{errs: []error{
		fmt.Errorf("%w: status 503", marketplace.ErrTransient),
		nil,
	}}

	p := newTestPipeline(gen, pub, newStubStore(), &stubNotifier{}, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if pub.calls != 2 {
		t.Fatalf("publish calls = %d, want 2", pub.calls)
	}
	if summary.Published != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRun_InvalidDraftCountedAsRejected(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {
			{Niche: "Business & Marketing", Title: "q=0.9", Body: ""},
			draftWithScore("Business & Marketing", "B", 0.9),
		},
	}}

	p := newTestPipeline(gen, &stubPublisher{}, newStubStore(), &stubNotifier{}, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Rejected != 1 || summary.Published != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRun_NotifierFailureSwallowed(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	notifier := &stubNotifier{err: errors.New("webhook down")}

	p := newTestPipeline(gen, &stubPublisher{}, newStubStore(), notifier, testConfig())

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("notifier failure must not fail the cycle: %v", err)
	}
}

func TestRun_SingleFlight(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	block := make(chan struct{})
	pub := &stubPublisher{block: block}

	p := newTestPipeline(gen, pub, newStubStore(), &stubNotifier{}, testConfig())

	done := make(chan struct{})
	go func() {
		_, _ = p.Run(context.Background())
		close(done)
	}()

	// Дождаться, пока первый цикл повиснет на публикации.
	for i := 0; i < 100; i++ {
		if p.State() == model.CycleStatePublishing {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := p.Run(context.Background())
	if !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}

	close(block)
	<-done
}

func TestTrigger_RejectsWhileRunning(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{
		"Business & Marketing": {draftWithScore("Business & Marketing", "A", 0.9)},
	}}
	block := make(chan struct{})
	pub := &stubPublisher{block: block}

	p := newTestPipeline(gen, pub, newStubStore(), &stubNotifier{}, testConfig())

	if err := p.Trigger(context.Background()); err != nil {
		t.Fatalf("first trigger error: %v", err)
	}

	for i := 0; i < 100; i++ {
		if p.State() == model.CycleStatePublishing {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := p.Trigger(context.Background()); !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}

	close(block)

	for i := 0; i < 100; i++ {
		if p.State() == model.CycleStateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("triggered cycle did not finish")
}

func TestRun_EmptyCycleStillReported(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{}}
	notifier := &stubNotifier{}

	p := newTestPipeline(gen, &stubPublisher{}, newStubStore(), notifier, testConfig())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if summary.Generated != 0 {
		t.Fatalf("generated = %d, want 0", summary.Generated)
	}
	if summary.Reason == "" {
		t.Fatalf("zero-output cycle must carry a reason")
	}

	last, ok := notifier.last()
	if !ok {
		t.Fatalf("empty cycle must still be reported")
	}
	if last.Generated != 0 {
		t.Fatalf("reported summary = %+v", last)
	}
}

func TestSummaries_NewestFirst(t *testing.T) {
	gen := &stubGenerator{drafts: map[string][]model.Draft{}}

	p := newTestPipeline(gen, &stubPublisher{}, newStubStore(), &stubNotifier{}, testConfig())

	for i := 0; i < 3; i++ {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run error: %v", err)
		}
	}

	summaries := p.Summaries()
	if len(summaries) != 3 {
		t.Fatalf("got %d summaries, want 3", len(summaries))
	}
	for i := 1; i < len(summaries); i++ {
		if summaries[i].StartedAt.After(summaries[i-1].StartedAt) {
			t.Fatalf("summaries are not sorted newest first")
		}
	}
}

func TestFingerprint_StableWithinDay(t *testing.T) {
	morning := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 8, 1, 21, 0, 0, 0, time.UTC)
	nextDay := time.Date(2025, 8, 2, 9, 0, 0, 0, time.UTC)

	a := Fingerprint("Business & Marketing", "Strategic Analysis", morning)
	b := Fingerprint("Business & Marketing", "Strategic Analysis", evening)
	c := Fingerprint("Business & Marketing", "Strategic Analysis", nextDay)

	if a != b {
		t.Fatalf("fingerprint must be stable within a day")
	}
	if a == c {
		t.Fatalf("fingerprint must differ across days")
	}
	if Fingerprint("Other", "Strategic Analysis", morning) == a {
		t.Fatalf("fingerprint must depend on niche")
	}
}
