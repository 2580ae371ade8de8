// Package taxonomy resolves category and tag names to ids, creating them the
// first time a user mentions them.
package taxonomy

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

var ErrEmptyName = errors.New("name is empty")

// Palette holds the display colors assigned to new tags.
var Palette = []string{
	"#EF4444", "#F97316", "#F59E0B", "#84CC16", "#10B981", "#14B8A6",
	"#06B6D4", "#3B82F6", "#6366F1", "#8B5CF6", "#D946EF", "#EC4899",
}

type Category struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
}

type Tag struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string
	Color  string
}

// Store persists categories and tags. Both methods must be idempotent on
// (user, lower(name)) and return the row that won.
type Store interface {
	GetOrCreateCategory(ctx context.Context, userID uuid.UUID, name string) (*Category, error)
	GetOrCreateTag(ctx context.Context, userID uuid.UUID, name, color string) (*Tag, error)
}

// Picker is the randomness source for palette selection. *rand.Rand
// satisfies it.
type Picker interface {
	IntN(n int) int
}

type globalPicker struct{}

func (globalPicker) IntN(n int) int { return rand.IntN(n) }

type Service struct {
	store  Store
	picker Picker
}

// NewService uses the global math/rand source when picker is nil.
func NewService(store Store, picker Picker) *Service {
	if picker == nil {
		picker = globalPicker{}
	}
	return &Service{store: store, picker: picker}
}

// Category returns the user's category with this name, case-insensitively,
// creating it when missing.
func (s *Service) Category(ctx context.Context, userID uuid.UUID, name string) (*Category, error) {
	name = cleanName(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	return s.store.GetOrCreateCategory(ctx, userID, name)
}

// Tags resolves every distinct name. A new tag gets a random palette color;
// an existing tag keeps its own.
func (s *Service) Tags(ctx context.Context, userID uuid.UUID, names []string) ([]*Tag, error) {
	seen := make(map[string]struct{}, len(names))
	tags := make([]*Tag, 0, len(names))
	for _, n := range names {
		n = cleanName(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		tag, err := s.store.GetOrCreateTag(ctx, userID, n, s.color())
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (s *Service) color() string {
	return Palette[s.picker.IntN(len(Palette))]
}

func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
