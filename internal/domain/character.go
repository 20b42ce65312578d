package domain

// PersonalitySlider places a character between two opposite poles.
// Value ranges from -100 (fully Left) to 100 (fully Right).
type PersonalitySlider struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
	Value int    `json:"value" yaml:"value"`
}

// Character is the identity input compiled into consistency constraints.
type Character struct {
	ID                string              `json:"id" yaml:"id"`
	OwnerID           string              `json:"owner_id" yaml:"owner_id"`
	Name              string              `json:"name" yaml:"name"`
	Tagline           string              `json:"tagline" yaml:"tagline"`
	PhysicalTraits    []string            `json:"physical_traits" yaml:"physical_traits"`
	Personality       []PersonalitySlider `json:"personality" yaml:"personality"`
	LockedTraits      []string            `json:"locked_traits" yaml:"locked_traits"`
	AvoidTraits       []string            `json:"avoid_traits" yaml:"avoid_traits"`
	ReferenceImageURL string              `json:"reference_image_url" yaml:"reference_image_url"`
	Seed              *int64              `json:"seed,omitempty" yaml:"seed"`
	Variation         float64             `json:"variation" yaml:"variation"`
}
