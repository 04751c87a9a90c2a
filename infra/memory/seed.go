package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/cleandispatch/core/model"
)

// Seed is the reference data a single-node deployment starts from.
type Seed struct {
	Sites        []model.Site         `yaml:"sites"`
	Workers      []model.Worker       `yaml:"workers"`
	Bookings     []model.Booking      `yaml:"bookings"`
	Availability []model.Availability `yaml:"availability"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply puts every record of seed into the store.
func (s *Store) Apply(seed Seed) error {
	for _, site := range seed.Sites {
		if err := s.PutSite(site); err != nil {
			return err
		}
	}
	for _, w := range seed.Workers {
		if err := s.PutWorker(w); err != nil {
			return err
		}
	}
	for _, b := range seed.Bookings {
		if err := s.PutBooking(b); err != nil {
			return err
		}
	}
	for _, a := range seed.Availability {
		if err := s.PutAvailability(a); err != nil {
			return err
		}
	}
	return nil
}
