package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "embed"

	"github.com/autom8ter/chronicle/kv"
	"github.com/autom8ter/chronicle/kv/badger"
	"github.com/autom8ter/chronicle/schema"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
)

var (
	//go:embed testdata/posts.yaml
	PostsSchema string
	//go:embed testdata/users.yaml
	UsersSchema string
)

// Schema parses one of the embedded schemas
func Schema(t testing.TB, content string) schema.Schema {
	t.Helper()
	s, err := schema.New([]byte(content))
	require.NoError(t, err)
	return s
}

// NewPostDoc returns a random document matching PostsSchema
func NewPostDoc() map[string]any {
	return map[string]any{
		"_id":          gofakeit.UUID(),
		"title":        gofakeit.Sentence(4),
		"body":         gofakeit.Paragraph(1, 3, 12, " "),
		"views":        float64(gofakeit.IntRange(0, 10000)),
		"published":    gofakeit.Bool(),
		"published_at": gofakeit.Date().UTC().Format(time.RFC3339),
		"author":       gofakeit.UUID(),
		"tags":         []any{gofakeit.Word(), gofakeit.Word()},
		"location": map[string]any{
			"latitude":  gofakeit.Latitude(),
			"longitude": gofakeit.Longitude(),
		},
		"meta": map[string]any{
			"likes":   float64(gofakeit.IntRange(0, 500)),
			"summary": gofakeit.Sentence(8),
		},
	}
}

// NewUserDoc returns a random document matching UsersSchema
func NewUserDoc() map[string]any {
	return map[string]any{
		"_id":      gofakeit.UUID(),
		"name":     gofakeit.Name(),
		"email":    gofakeit.Email(),
		"age":      float64(gofakeit.IntRange(18, 90)),
		"roles":    []any{gofakeit.RandomString([]string{"admin", "editor", "viewer"})},
		"avatar":   gofakeit.URL(),
		"password": gofakeit.Password(true, true, true, false, false, 16),
	}
}

// NewKV opens an in-memory badger database that is closed when the test ends
func NewKV(t testing.TB) kv.DB {
	t.Helper()
	db, err := badger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close(context.Background())
	})
	return db
}

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at the given time
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the clock's current time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
