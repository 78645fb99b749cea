package recall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"deskagent/internal/apperr"
	"deskagent/internal/chat"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose view worker starts in init and never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) Name() string { return "fake" }

type memStore struct {
	mu    sync.Mutex
	turns []chat.Turn
}

func (m *memStore) AttachEmbedding(_ context.Context, turnID string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.turns {
		if m.turns[i].ID == turnID {
			m.turns[i].Embedding = vec
			return nil
		}
	}
	return errors.New("not found")
}

func (m *memStore) EmbeddedTurns(_ context.Context, _ string) ([]chat.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Turn
	for _, t := range m.turns {
		if len(t.Embedding) > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

func textTurn(id, text string) chat.Turn {
	return chat.Turn{ID: id, SessionID: "s", Role: chat.RoleUser, Parts: []chat.Part{chat.TextPart(text)}}
}

func TestService_EmbedBlankIsUnavailable(t *testing.T) {
	svc := NewService(&fakeEmbedder{}, &memStore{}, Options{}, nil)
	defer svc.Close(context.Background())

	if _, err := svc.Embed(context.Background(), "   "); !errors.Is(err, apperr.ErrEmbeddingUnavailable) {
		t.Fatalf("err=%v, want ErrEmbeddingUnavailable", err)
	}
}

func TestService_EmbedProviderErrorIsUnavailable(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&fakeEmbedder{err: boom}, &memStore{}, Options{}, nil)
	defer svc.Close(context.Background())

	_, err := svc.Embed(context.Background(), "hello")
	if !errors.Is(err, apperr.ErrEmbeddingUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("err=%v, want ErrEmbeddingUnavailable wrapping boom", err)
	}
	if got := svc.Recall(context.Background(), "s", "hello", 3); len(got) != 0 {
		t.Fatalf("Recall=%v, want empty on failure", got)
	}
}

func TestService_IndexThenSimilar(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"backup photos":  {1, 0, 0},
		"weather today":  {0, 1, 0},
		"copy my photos": {0.9, 0.1, 0},
		"nightly backup": {0.8, 0, 0.2},
	}}
	store := &memStore{turns: []chat.Turn{
		textTurn("t1", "backup photos"),
		textTurn("t2", "weather today"),
		textTurn("t3", "nightly backup"),
	}}
	svc := NewService(emb, store, Options{Workers: 2, Timeout: time.Second}, nil)
	for _, turn := range store.turns {
		svc.Index(turn)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := svc.Recall(context.Background(), "s", "copy my photos", 2)
	var ids []string
	for _, turn := range got {
		ids = append(ids, turn.ID)
	}
	if diff := cmp.Diff([]string{"t1", "t3"}, ids); diff != "" {
		t.Fatalf("recall order mismatch (-want +got):\n%s", diff)
	}

	excluded := svc.Recall(context.Background(), "s", "copy my photos", 2, "t1")
	if len(excluded) != 2 || excluded[0].ID != "t3" {
		t.Fatalf("excluded recall=%v, want t3 first", excluded)
	}
}

func TestService_DisabledIsNoop(t *testing.T) {
	svc := NewService(nil, &memStore{}, Options{}, nil)
	defer svc.Close(context.Background())

	svc.Index(textTurn("t1", "hello"))
	if svc.Enabled() {
		t.Fatal("Enabled()=true without embedder")
	}
	if got := svc.Recall(context.Background(), "s", "hello", 3); got != nil {
		t.Fatalf("Recall=%v, want nil", got)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Fatalf("CosineSimilarity=%f, want %f", got, tt.want)
			}
		})
	}
}
