package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// LibraryTeacherID owns catalogs seeded from disk.
const LibraryTeacherID = "guild-library"

// SeedFile is the YAML layout of a seed catalog.
type SeedFile struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Language    string            `yaml:"language"`
	Passcode    string            `yaml:"passcode"`
	Author      string            `yaml:"author"`
	Public      *bool             `yaml:"public"`
	Thresholds  domain.Thresholds `yaml:"thresholds"`
	Missions    []domain.Mission  `yaml:"missions"`
}

// Catalog converts the file into a library catalog. Seeds are public unless
// the file says otherwise.
func (f SeedFile) Catalog() *domain.Catalog {
	public := true
	if f.Public != nil {
		public = *f.Public
	}
	author := f.Author
	if author == "" {
		author = "Guild Library"
	}
	return &domain.Catalog{
		ID:          f.ID,
		TeacherID:   LibraryTeacherID,
		AuthorName:  author,
		Title:       f.Title,
		Description: f.Description,
		Language:    f.Language,
		Passcode:    f.Passcode,
		Missions:    f.Missions,
		Public:      public,
		Thresholds:  f.Thresholds,
	}
}

// LoadSeeds reads every *.yaml and *.yml file in dir, in name order.
func LoadSeeds(dir string) ([]SeedFile, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)

	seeds := make([]SeedFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", filepath.Base(p), err)
		}
		var f SeedFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse seed %s: %w", filepath.Base(p), err)
		}
		if f.ID == "" {
			return nil, fmt.Errorf("seed %s: %w: id is required", filepath.Base(p), domain.ErrInvalidCatalog)
		}
		seeds = append(seeds, f)
	}
	return seeds, nil
}

// Seed stores the catalogs found in dir. Catalogs that already exist keep
// their creation time. A missing dir seeds nothing.
func (s *Service) Seed(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	seeds, err := LoadSeeds(dir)
	if err != nil {
		return 0, err
	}
	for _, f := range seeds {
		c := f.Catalog()
		if existing, err := s.store.GetCatalog(ctx, c.ID); err == nil {
			c.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		if _, err := s.Save(ctx, c); err != nil {
			return 0, fmt.Errorf("seed %s: %w", f.ID, err)
		}
	}
	s.logger.Info("catalogs seeded", "dir", dir, "count", len(seeds))
	return len(seeds), nil
}
