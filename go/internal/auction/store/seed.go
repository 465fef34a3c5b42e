package store

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/models"
	"gopkg.in/yaml.v3"
)

// SeedItem is one entry of a YAML seed file.
type SeedItem struct {
	ID              string    `yaml:"id"`
	Title           string    `yaml:"title"`
	Description     *string   `yaml:"description"`
	ImageLink       string    `yaml:"image_link"`
	StartTime       time.Time `yaml:"start_time"`
	EndTime         time.Time `yaml:"end_time"`
	DurationMinutes int       `yaml:"duration_minutes"`
	StartingBid     int64     `yaml:"starting_bid"`
	Increment       int64     `yaml:"increment"`
}

type seedFile struct {
	Items []SeedItem `yaml:"items"`
}

// ParseSeed reads a YAML document of the form `items: [...]`.
func ParseSeed(r io.Reader) ([]models.Item, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	items := make([]models.Item, 0, len(f.Items))
	for i, s := range f.Items {
		if s.Title == "" {
			return nil, fmt.Errorf("seed item %d: title is required", i)
		}
		if s.StartTime.IsZero() {
			return nil, fmt.Errorf("seed item %q: start_time is required", s.Title)
		}
		if s.EndTime.IsZero() && s.DurationMinutes <= 0 {
			return nil, fmt.Errorf("seed item %q: end_time or duration_minutes is required", s.Title)
		}

		id := uuid.New()
		if s.ID != "" {
			parsed, err := uuid.Parse(s.ID)
			if err != nil {
				return nil, fmt.Errorf("seed item %q: %w", s.Title, err)
			}
			id = parsed
		}

		item := models.Item{
			ID:              id,
			Title:           s.Title,
			Description:     s.Description,
			ImageLink:       s.ImageLink,
			StartTime:       s.StartTime.UTC(),
			EndTime:         s.EndTime.UTC(),
			DurationMinutes: s.DurationMinutes,
			Increment:       s.Increment,
			CurrentBid:      s.StartingBid,
		}
		item.Normalize()
		items = append(items, item)
	}
	return items, nil
}
