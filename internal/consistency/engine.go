// Package consistency compiles a character's identity into prompt fragments
// that keep its appearance stable across generations.
package consistency

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"genstudio/internal/domain"
	"genstudio/internal/workerapi"
)

const (
	includeThreshold = 30
	strongThreshold  = 50
	veryThreshold    = 70
	lockedPrefix     = "IMPORTANT: "
)

// Reference pins generation to the character's reference image.
type Reference struct {
	ImageURL string
	Strength float64
	Seed     *int64
}

// Spec is the compiled identity of a character. It is derived on demand and
// never stored.
type Spec struct {
	Prompt    string
	Negative  string
	Reference *Reference
}

// Prompt is the final text sent to the worker.
type Prompt struct {
	Positive string
	Negative string
}

var (
	titleCaser = cases.Title(language.Und, cases.NoLower)
	foldCaser  = cases.Fold()
)

// Compile renders c into a Spec. Locked traits come first so they survive
// truncation by the downstream model.
func Compile(c domain.Character) Spec {
	var parts []string
	for _, t := range c.LockedTraits {
		if t = clean(t); t != "" {
			parts = append(parts, lockedPrefix+t)
		}
	}
	if name := clean(c.Name); name != "" {
		identity := titleCaser.String(name)
		if tagline := clean(c.Tagline); tagline != "" {
			identity += ", " + tagline
		}
		parts = append(parts, identity)
	}
	for _, t := range c.PhysicalTraits {
		if t = clean(t); t != "" {
			parts = append(parts, t)
		}
	}
	for _, s := range c.Personality {
		if d, ok := DescribeTrait(s); ok {
			parts = append(parts, d)
		}
	}

	spec := Spec{
		Prompt:   strings.Join(dedupe(parts), ", "),
		Negative: strings.Join(dedupe(cleanAll(c.AvoidTraits)), ", "),
	}
	if ref := strings.TrimSpace(c.ReferenceImageURL); ref != "" {
		spec.Reference = &Reference{
			ImageURL: ref,
			Strength: ReferenceStrength(c.Variation),
			Seed:     c.Seed,
		}
	}
	return spec
}

// DescribeTrait renders one slider, or reports false when it is too close to
// neutral to mention.
func DescribeTrait(s domain.PersonalitySlider) (string, bool) {
	v := s.Value
	if v > 100 {
		v = 100
	} else if v < -100 {
		v = -100
	}
	mag := v
	if mag < 0 {
		mag = -mag
	}
	if mag < includeThreshold {
		return "", false
	}
	pole := clean(s.Right)
	if v < 0 {
		pole = clean(s.Left)
	}
	if pole == "" {
		return "", false
	}
	switch {
	case mag >= veryThreshold:
		return "very " + pole, true
	case mag >= strongThreshold:
		return pole, true
	default:
		return "somewhat " + pole, true
	}
}

// Combine joins the compiled identity with the user's scene prompt and merges
// negative fragments without duplicates.
func Combine(spec Spec, scene, userNegative string) Prompt {
	positive := dedupe(append(splitFragments(spec.Prompt), splitFragments(scene)...))
	negative := dedupe(append(splitFragments(spec.Negative), splitFragments(userNegative)...))
	return Prompt{
		Positive: strings.Join(positive, ", "),
		Negative: strings.Join(negative, ", "),
	}
}

// ReferenceStrength maps a variation percentage to reference fidelity:
// 0 keeps the reference fully (1.0) and 100 ignores it (0.0).
func ReferenceStrength(variation float64) float64 {
	if math.IsNaN(variation) {
		return 1
	}
	s := (100 - variation) / 100
	return math.Max(0, math.Min(1, s))
}

// ApplyTo writes the combined prompt and reference into a worker request.
func ApplyTo(req *workerapi.GenerateRequest, spec Spec, scene, userNegative string) {
	p := Combine(spec, scene, userNegative)
	req.Prompt = p.Positive
	req.NegativePrompt = p.Negative
	if spec.Reference != nil {
		req.Reference = &workerapi.Reference{
			ImageURL: spec.Reference.ImageURL,
			Strength: spec.Reference.Strength,
			Seed:     spec.Reference.Seed,
		}
	}
}

// ParseCharacterYAML decodes a character sheet. Unknown keys are rejected.
func ParseCharacterYAML(data []byte) (domain.Character, error) {
	var c domain.Character
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return domain.Character{}, fmt.Errorf("consistency: decode character: %w", err)
	}
	if clean(c.Name) == "" {
		return domain.Character{}, errors.New("consistency: character name is required")
	}
	for _, s := range c.Personality {
		if s.Value < -100 || s.Value > 100 {
			return domain.Character{}, fmt.Errorf("consistency: slider %s/%s value %d outside [-100,100]", s.Left, s.Right, s.Value)
		}
	}
	if c.Variation < 0 || c.Variation > 100 {
		return domain.Character{}, fmt.Errorf("consistency: variation %.0f outside [0,100]", c.Variation)
	}
	return c, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitFragments(s string) []string {
	return cleanAll(strings.Split(s, ","))
}

// dedupe drops case-insensitive repeats, keeping the first spelling.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		k := foldCaser.String(strings.TrimPrefix(s, lockedPrefix))
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
