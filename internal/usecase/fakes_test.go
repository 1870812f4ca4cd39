package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"ArticlesPodcast/internal/audio"
	"ArticlesPodcast/internal/domain"
	"ArticlesPodcast/internal/files"
	"ArticlesPodcast/internal/ports"
	"ArticlesPodcast/internal/speech"
	"ArticlesPodcast/internal/synthesis"

	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	items    map[string]domain.WorkItem
	settings map[string]string
	history  map[string][]domain.State
	progress [][2]int
	leases   map[string]memLease
}

type memLease struct {
	owner   string
	expires time.Time
}

var (
	_ ports.WorkItemRepository = (*memRepo)(nil)
	_ ports.SettingsStore      = (*memRepo)(nil)
	_ ports.Lease              = (*memRepo)(nil)
)

func newMemRepo() *memRepo {
	return &memRepo{
		items:    map[string]domain.WorkItem{},
		settings: map[string]string{},
		history:  map[string][]domain.State{},
		leases:   map[string]memLease{},
	}
}

func (r *memRepo) Create(_ context.Context, item *domain.WorkItem, gap int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxOrder := 0
	for _, it := range r.items {
		if it.SortOrder > maxOrder {
			maxOrder = it.SortOrder
		}
	}
	item.SortOrder = maxOrder + gap
	r.items[item.ID] = *item
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("work item %s: %w", id, ports.ErrNotFound)
	}
	return item, nil
}

// put overwrites a stored record; tests use it to stage states.
func (r *memRepo) put(item domain.WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(item)
	r.items[item.ID] = item
}

func (r *memRepo) record(item domain.WorkItem) {
	if prev, ok := r.items[item.ID]; !ok || prev.State != item.State {
		r.history[item.ID] = append(r.history[item.ID], item.State)
	}
}

func (r *memRepo) UpdateProcessing(_ context.Context, from domain.State, item domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[item.ID]
	if !ok || stored.State != from {
		return fmt.Errorf("work item %s in state %s: %w", item.ID, from, ports.ErrConflict)
	}
	r.record(item)
	stored.Title = item.Title
	stored.Author = item.Author
	stored.Excerpt = item.Excerpt
	stored.ExtractedText = item.ExtractedText
	stored.WordCount = item.WordCount
	stored.AudioFilePath = item.AudioFilePath
	stored.AudioDurationSeconds = item.AudioDurationSeconds
	stored.State = item.State
	stored.ErrorMessage = item.ErrorMessage
	stored.RetryCount = item.RetryCount
	stored.TotalParagraphs = item.TotalParagraphs
	stored.ProcessedParagraphs = item.ProcessedParagraphs
	stored.ExtractedAt = item.ExtractedAt
	stored.AudioGeneratedAt = item.AudioGeneratedAt
	r.items[item.ID] = stored
	return nil
}

func (r *memRepo) UpdatePlayback(_ context.Context, item domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[item.ID]
	if !ok {
		return ports.ErrNotFound
	}
	r.record(item)
	stored.State = item.State
	stored.LastPlayedAt = item.LastPlayedAt
	stored.PlaybackPosition = item.PlaybackPosition
	stored.PlaybackRate = item.PlaybackRate
	stored.HasBeenPlayed = item.HasBeenPlayed
	r.items[item.ID] = stored
	return nil
}

func (r *memRepo) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if l, ok := r.leases[name]; ok && l.owner != owner && now.Before(l.expires) {
		return false, nil
	}
	r.leases[name] = memLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (r *memRepo) Release(_ context.Context, name, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leases[name]; ok && l.owner == owner {
		delete(r.leases, name)
	}
	return nil
}

func (r *memRepo) leaseHeld(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leases[name]
	return ok
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ports.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) List(context.Context) ([]domain.WorkItem, error) {
	return r.filter(func(domain.WorkItem) bool { return true }), nil
}

func (r *memRepo) ListByStates(_ context.Context, states ...domain.State) ([]domain.WorkItem, error) {
	return r.filter(func(it domain.WorkItem) bool {
		for _, s := range states {
			if it.State == s {
				return true
			}
		}
		return false
	}), nil
}

func (r *memRepo) OldestPending(context.Context) (domain.WorkItem, error) {
	items := r.filter(func(it domain.WorkItem) bool { return it.State == domain.StatePending })
	if len(items) == 0 {
		return domain.WorkItem{}, ports.ErrNotFound
	}
	return items[0], nil
}

func (r *memRepo) UpdateProgress(_ context.Context, id string, processed, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return ports.ErrNotFound
	}
	item.SetProgress(processed, total)
	r.items[id] = item
	r.progress = append(r.progress, [2]int{processed, total})
	return nil
}

func (r *memRepo) Reorder(_ context.Context, ids []string, gap int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range ids {
		if item, ok := r.items[id]; ok {
			item.SortOrder = i * gap
			r.items[id] = item
		}
	}
	return nil
}

func (r *memRepo) GetSetting(_ context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.settings[key]
	return v, ok, nil
}

func (r *memRepo) SetSetting(_ context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
	return nil
}

func (r *memRepo) filter(keep func(domain.WorkItem) bool) []domain.WorkItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WorkItem
	for _, it := range r.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func (r *memRepo) states(id string) []domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.State(nil), r.history[id]...)
}

type fakeExtractor struct {
	mu      sync.Mutex
	results map[string]ports.Extraction
	err     error
	block   bool
	calls   int
	// gate, when set, holds every call until it is closed; entered receives
	// one value per held call.
	gate    chan struct{}
	entered chan string
}

func (e *fakeExtractor) Extract(ctx context.Context, rawURL string) (ports.Extraction, error) {
	e.mu.Lock()
	e.calls++
	res, ok := e.results[rawURL]
	err, block, gate, entered := e.err, e.block, e.gate, e.entered
	e.mu.Unlock()

	if gate != nil {
		entered <- rawURL
		select {
		case <-gate:
		case <-ctx.Done():
			return ports.Extraction{}, ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return ports.Extraction{}, ctx.Err()
	}
	if err != nil {
		return ports.Extraction{}, err
	}
	if !ok {
		return ports.Extraction{}, fmt.Errorf("no fixture for %s", rawURL)
	}
	return res, nil
}

// hold makes subsequent calls wait until the returned func is called.
func (e *fakeExtractor) hold() (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gate = make(chan struct{})
	e.entered = make(chan string, 8)
	gate := e.gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (e *fakeExtractor) waitEntered(t *testing.T) string {
	t.Helper()
	e.mu.Lock()
	entered := e.entered
	e.mu.Unlock()
	select {
	case u := <-entered:
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
		return ""
	}
}

func (e *fakeExtractor) set(rawURL string, res ports.Extraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[rawURL] = res
	e.err = nil
}

// toneSpeaker emits half a second of audio per paragraph.
type toneSpeaker struct {
	mu     sync.Mutex
	hang   bool
	voices []string
}

func (s *toneSpeaker) Speak(ctx context.Context, _, voice string, frames chan<- speech.Frame) error {
	s.mu.Lock()
	s.voices = append(s.voices, voice)
	hang := s.hang
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	format := audio.DefaultFormat
	for _, f := range []speech.Frame{
		{Format: format, Samples: make([]int, format.SampleRate/2)},
		{Format: format},
	} {
		select {
		case frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *toneSpeaker) usedVoices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voices...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.WorkItem
}

func (n *recordingNotifier) PublishStatus(_ context.Context, item domain.WorkItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return nil
}

type harness struct {
	repo         *memRepo
	extractor    *fakeExtractor
	speaker      *toneSpeaker
	notifier     *recordingNotifier
	files        *files.Manager
	settings     *Settings
	orchestrator *Orchestrator
	queue        *Queue
	intake       *Intake
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	fm := files.NewManager(t.TempDir())
	require.NoError(t, fm.Ensure())

	h := &harness{
		repo:      newMemRepo(),
		extractor: &fakeExtractor{results: map[string]ports.Extraction{}},
		speaker:   &toneSpeaker{},
		notifier:  &recordingNotifier{},
		files:     fm,
	}
	h.settings = NewSettings(h.repo, SettingsDefaults{TTSEngine: "system"})
	h.orchestrator, h.queue = h.processor(h.repo, timeout)
	h.intake = NewIntake(h.repo, domain.SortGap, nil)
	return h
}

// processor builds an orchestrator and queue over repo that share the
// harness's files and fakes. A second processor over the same repo stands in
// for another process working on the same database.
func (h *harness) processor(repo interface {
	ports.WorkItemRepository
	ports.Lease
}, timeout time.Duration) (*Orchestrator, *Queue) {
	fm := h.files
	system := speech.NewSystemEngine(h.speaker, nil, nil, speech.WithTimeout(timeout), speech.WithTempDir(fm.TempDir()))
	neural := speech.NewNeuralEngine(nil, fm.ModelPath("kokoro-v1.0.onnx"), timeout, fm.TempDir(), nil)

	o := NewOrchestrator(OrchestratorDeps{
		Repository:       repo,
		Extractor:        h.extractor,
		Settings:         h.settings,
		Engines:          speech.NewRegistry(system, neural),
		Pipeline:         synthesis.NewPipeline(system, fm, audio.DefaultFormat, nil),
		Assembler:        audio.NewAssembler(audio.DefaultFormat, nil),
		Files:            fm,
		Notifier:         h.notifier,
		Lease:            repo,
		ProgressInterval: time.Nanosecond,
	})
	q := NewQueue(QueueDeps{
		Repository:   repo,
		Orchestrator: o,
		Settings:     h.settings,
		Files:        fm,
	})
	return o, q
}

func (h *harness) add(t *testing.T, rawURL string, res *ports.Extraction) domain.WorkItem {
	t.Helper()
	item, err := h.intake.Add(context.Background(), rawURL, "")
	require.NoError(t, err)
	if res != nil {
		h.extractor.set(item.URL, *res)
	}
	return item
}

func article(text string) *ports.Extraction {
	return &ports.Extraction{Title: "A Title", Author: "Ada", Excerpt: "Short.", Text: text}
}
