package capability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

var errHookBug = errors.New("nil map write")

// recorder collects hook invocations across capabilities.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type mockCapability struct {
	name     string
	priority int
	rec      *recorder

	beforeErr   error
	beforePanic bool
	validateErr error
	enrich      string
	facts       []domain.Fact
}

func (m *mockCapability) Name() string  { return m.name }
func (m *mockCapability) Priority() int { return m.priority }

func (m *mockCapability) Validate(_ context.Context, _ TaskInput) error {
	m.rec.add(m.name + ":validate")
	return m.validateErr
}

func (m *mockCapability) BeforeTask(_ context.Context, _ TaskInput) ([]Enrichment, error) {
	m.rec.add(m.name + ":before")
	if m.beforePanic {
		panic("boom")
	}
	if m.beforeErr != nil {
		return nil, m.beforeErr
	}
	return []Enrichment{{Text: m.enrich}}, nil
}

func (m *mockCapability) AfterTask(_ context.Context, _ TaskInput, _ string) ([]domain.Fact, error) {
	m.rec.add(m.name + ":after")
	return m.facts, nil
}

func newMock(name string, priority int, rec *recorder) *mockCapability {
	return &mockCapability{name: name, priority: priority, rec: rec, enrich: name + " notes"}
}

func taskInput(category constants.TaskCategory) TaskInput {
	return TaskInput{
		SessionID: "s1",
		Goal:      domain.Goal{Genre: "gothic", Mode: constants.ModeNovel, Chapters: 2},
		Task:      &domain.Task{ID: "t1", Category: category, ChapterIndex: 1},
	}
}

func TestRegistry_OrderByPriorityThenRegistration(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(newMock("low", 10, rec)))
	require.NoError(t, r.Register(newMock("high-a", 80, rec)))
	require.NoError(t, r.Register(newMock("high-b", 80, rec)))
	require.NoError(t, r.Register(newMock("mid", 50, rec)))

	assert.Equal(t, []string{"high-a", "high-b", "mid", "low"}, r.Snapshot().Names())

	enrichments, err := r.Snapshot().BeforeTask(context.Background(), taskInput(constants.CategoryOutline))
	require.NoError(t, err)
	require.Len(t, enrichments, 4)
	assert.Equal(t, "high-a", enrichments[0].Source)
	assert.Equal(t, []string{
		"high-a:validate", "high-a:before", "high-b:validate", "high-b:before",
		"mid:validate", "mid:before", "low:validate", "low:before",
	}, rec.get())
}

func TestRegistry_RegisterErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry(zerolog.Nop())
	rec := &recorder{}
	require.NoError(t, r.Register(newMock("a", 10, rec)))
	require.ErrorIs(t, r.Register(newMock("a", 20, rec)), slerrors.ErrCapabilityExists)
	require.ErrorIs(t, r.Register(newMock("b", 101, rec)), slerrors.ErrValueOutOfRange)
	require.ErrorIs(t, r.Register(newMock("", 1, rec)), slerrors.ErrEmptyValue)
	require.ErrorIs(t, r.Disable("ghost"), slerrors.ErrCapabilityNotFound)
	require.ErrorIs(t, r.SetPriority("a", -1), slerrors.ErrValueOutOfRange)
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	require.NoError(t, r.Register(newMock("a", 10, rec)))
	require.NoError(t, r.Register(newMock("b", 20, rec)))

	snap := r.Snapshot()
	require.NoError(t, r.Disable("b"))
	require.NoError(t, r.SetPriority("a", 99))

	assert.Equal(t, []string{"b", "a"}, snap.Names())
	assert.Equal(t, []string{"a"}, r.Snapshot().Names())

	require.NoError(t, r.Enable("b"))
	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, 99, infos[0].Priority)
	assert.Contains(t, infos[0].Hooks, "before_task")
}

func TestPipeline_BugIsIsolated(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	broken := newMock("broken", 90, rec)
	broken.beforeErr = errHookBug
	panicky := newMock("panicky", 80, rec)
	panicky.beforePanic = true
	require.NoError(t, r.Register(broken))
	require.NoError(t, r.Register(panicky))
	require.NoError(t, r.Register(newMock("healthy", 10, rec)))

	enrichments, err := r.Snapshot().BeforeTask(context.Background(), taskInput(constants.CategoryOutline))
	require.NoError(t, err)
	require.Len(t, enrichments, 1)
	assert.Equal(t, "healthy notes", enrichments[0].Text)
	assert.Contains(t, rec.get(), "healthy:before")
}

func TestPipeline_VetoStopsTask(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	gate := newMock("gate", 90, rec)
	gate.validateErr = slerrors.NewVeto("", "continuity broken")
	require.NoError(t, r.Register(gate))
	require.NoError(t, r.Register(newMock("later", 10, rec)))

	_, err := r.Snapshot().BeforeTask(context.Background(), taskInput(constants.CategoryChapterContent))
	require.ErrorIs(t, err, slerrors.ErrCapabilityVeto)
	veto, ok := slerrors.AsVeto(err)
	require.True(t, ok)
	assert.Equal(t, "gate", veto.Capability)
	assert.NotContains(t, rec.get(), "later:validate")
}

func TestPipeline_AfterTaskCollectsFacts(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	r := NewRegistry(zerolog.Nop())
	m := newMock("facts", 50, rec)
	m.facts = []domain.Fact{{Kind: domain.FactCharacter, Text: "Ada limps"}}
	require.NoError(t, r.Register(m))

	facts := r.Snapshot().AfterTask(context.Background(), taskInput(constants.CategoryChapterContent), "text")
	require.Len(t, facts, 1)
	assert.Equal(t, "facts", facts[0].Source)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltins(r))
	assert.Equal(t, []string{
		NameCharacterContinuity, NameWorldRules, NameTimeline,
		NameForeshadow, NameSceneAtmosphere, NameDialogueVoice,
	}, r.Snapshot().Names())

	t.Run("foreshadow contributes for multi-chapter novels", func(t *testing.T) {
		t.Parallel()
		p := r.Snapshot()
		contributions := p.Contributions(context.Background(), domain.Goal{Mode: constants.ModeNovel, Chapters: 3})
		require.Len(t, contributions, 1)
		assert.Equal(t, ForeshadowTaskID, contributions[0].ID)
		assert.Equal(t, NameForeshadow, contributions[0].Contributor)
		assert.Empty(t, p.Contributions(context.Background(), domain.Goal{Mode: constants.ModeNovel, Chapters: 1}))
	})

	t.Run("character facts extracted from design", func(t *testing.T) {
		t.Parallel()
		in := taskInput(constants.CategoryCharacterDesign)
		facts, err := CharacterContinuity{}.AfterTask(context.Background(), in,
			"The heir is Mara Vell. Everyone fears Mara. Her rival Joss speaks softly. Joss lies.")
		require.NoError(t, err)
		subjects := make([]string, 0, len(facts))
		for _, f := range facts {
			subjects = append(subjects, f.Subject)
		}
		assert.Equal(t, []string{"Mara", "Joss"}, subjects)

		voices, err := DialogueVoice{}.AfterTask(context.Background(), in, "Joss speaks softly. Mara shouts.")
		require.NoError(t, err)
		require.Len(t, voices, 1)
		assert.Equal(t, "Joss speaks softly", voices[0].Text)
	})

	t.Run("world rules listed and restated", func(t *testing.T) {
		t.Parallel()
		facts, err := WorldRules{}.AfterTask(context.Background(), taskInput(constants.CategoryWorldRules),
			"Rules:\n- Magic costs memory\n2. Iron wards spirits\nplain prose")
		require.NoError(t, err)
		require.Len(t, facts, 2)
		assert.Equal(t, "Magic costs memory", facts[0].Text)

		in := taskInput(constants.CategoryChapterContent)
		in.Facts = facts
		enrichments, err := WorldRules{}.BeforeTask(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, enrichments, 1)
		assert.Contains(t, enrichments[0].Text, "Iron wards spirits")
	})

	t.Run("world rules veto empty rules", func(t *testing.T) {
		t.Parallel()
		in := taskInput(constants.CategoryChapterContent)
		in.Foundational = map[string]string{"world_rules": "  "}
		require.ErrorIs(t, WorldRules{}.Validate(context.Background(), in), slerrors.ErrCapabilityVeto)

		in.Skipped = map[string]bool{"world_rules": true}
		require.NoError(t, WorldRules{}.Validate(context.Background(), in))
	})

	t.Run("timeline vetoes gaps", func(t *testing.T) {
		t.Parallel()
		in := taskInput(constants.CategoryChapterOutline)
		in.Task.ChapterIndex = 2
		in.Skipped = map[string]bool{"chapter-001-polish": true}
		require.ErrorIs(t, Timeline{}.Validate(context.Background(), in), slerrors.ErrCapabilityVeto)
		require.NoError(t, Timeline{AllowGaps: true}.Validate(context.Background(), in))

		for _, c := range Builtins(WithTimelineGaps(true)) {
			if tl, ok := c.(Timeline); ok {
				require.NoError(t, tl.Validate(context.Background(), in))
			}
		}
		for _, c := range Builtins() {
			if tl, ok := c.(Timeline); ok {
				require.ErrorIs(t, tl.Validate(context.Background(), in), slerrors.ErrCapabilityVeto)
			}
		}

		facts, err := Timeline{}.AfterTask(context.Background(),
			TaskInput{Task: &domain.Task{Category: constants.CategoryChapterPolish, ChapterIndex: 2}},
			"The ship burned. Nobody slept.")
		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.Equal(t, "Chapter 2: The ship burned", facts[0].Text)
	})

	t.Run("atmosphere only for prose", func(t *testing.T) {
		t.Parallel()
		got, err := SceneAtmosphere{}.BeforeTask(context.Background(), taskInput(constants.CategoryOutline))
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = SceneAtmosphere{}.BeforeTask(context.Background(), taskInput(constants.CategoryChapterPolish))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Text, "gothic")
	})
}
