package taxonomy

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu         sync.Mutex
	categories map[string]*Category
	tags       map[string]*Tag
}

func newMemoryStore() *memoryStore {
	return &memoryStore{categories: map[string]*Category{}, tags: map[string]*Tag{}}
}

func (m *memoryStore) GetOrCreateCategory(_ context.Context, userID uuid.UUID, name string) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID.String() + "/" + strings.ToLower(name)
	if c, ok := m.categories[key]; ok {
		return c, nil
	}
	c := &Category{ID: uuid.New(), UserID: userID, Name: name}
	m.categories[key] = c
	return c, nil
}

func (m *memoryStore) GetOrCreateTag(_ context.Context, userID uuid.UUID, name, color string) (*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID.String() + "/" + strings.ToLower(name)
	if t, ok := m.tags[key]; ok {
		return t, nil
	}
	t := &Tag{ID: uuid.New(), UserID: userID, Name: name, Color: color}
	m.tags[key] = t
	return t, nil
}

type fixedPicker int

func (f fixedPicker) IntN(n int) int { return int(f) % n }

func TestCategory_FirstUseWins(t *testing.T) {
	svc := NewService(newMemoryStore(), nil)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Category(ctx, userID, "Groceries")
	require.NoError(t, err)
	again, err := svc.Category(ctx, userID, "  groceries ")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Groceries", again.Name)

	other, err := svc.Category(ctx, uuid.New(), "Groceries")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = svc.Category(ctx, userID, "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestTags_PaletteColor(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()
	userID := uuid.New()

	tags, err := NewService(store, fixedPicker(3)).Tags(ctx, userID, []string{"travel", "Travel", " ", "work"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, Palette[3], tags[0].Color)
	assert.Equal(t, Palette[3], tags[1].Color)

	// existing tags keep their color
	tags, err = NewService(store, fixedPicker(5)).Tags(ctx, userID, []string{"TRAVEL"})
	require.NoError(t, err)
	assert.Equal(t, Palette[3], tags[0].Color)
}

func TestTags_SeededPickerIsReproducible(t *testing.T) {
	pick := func() []string {
		svc := NewService(newMemoryStore(), rand.New(rand.NewPCG(1, 2)))
		tags, err := svc.Tags(context.Background(), uuid.New(), []string{"a", "b", "c", "d"})
		require.NoError(t, err)
		var colors []string
		for _, tag := range tags {
			assert.Contains(t, Palette, tag.Color)
			colors = append(colors, tag.Color)
		}
		return colors
	}
	assert.Equal(t, pick(), pick())
}

func TestPostgresStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	userID, catID, tagID := uuid.New(), uuid.New(), uuid.New()
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs(userID, "Groceries").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name"}).AddRow(catID, "groceries"))
	mock.ExpectQuery("INSERT INTO tags").
		WithArgs(userID, "travel", "#EF4444").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "color"}).AddRow(tagID, "Travel", "#10B981"))

	store := NewPostgresStore(mock)
	c, err := store.GetOrCreateCategory(context.Background(), userID, "Groceries")
	require.NoError(t, err)
	assert.Equal(t, catID, c.ID)
	assert.Equal(t, "groceries", c.Name)

	tag, err := store.GetOrCreateTag(context.Background(), userID, "travel", "#EF4444")
	require.NoError(t, err)
	assert.Equal(t, "#10B981", tag.Color)
	assert.NoError(t, mock.ExpectationsWereMet())
}
