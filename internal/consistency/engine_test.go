package consistency

import (
	"strings"
	"testing"

	"genstudio/internal/domain"
	"genstudio/internal/workerapi"
)

func TestDescribeTrait(t *testing.T) {
	tests := []struct {
		value int
		want  string
		ok    bool
	}{
		{value: 0, ok: false},
		{value: 29, ok: false},
		{value: -29, ok: false},
		{value: 30, want: "somewhat bold", ok: true},
		{value: 49, want: "somewhat bold", ok: true},
		{value: 50, want: "bold", ok: true},
		{value: 69, want: "bold", ok: true},
		{value: 70, want: "very bold", ok: true},
		{value: 100, want: "very bold", ok: true},
		{value: -30, want: "somewhat shy", ok: true},
		{value: -55, want: "shy", ok: true},
		{value: -100, want: "very shy", ok: true},
	}
	for _, tc := range tests {
		got, ok := DescribeTrait(domain.PersonalitySlider{Left: "shy", Right: "bold", Value: tc.value})
		if ok != tc.ok || got != tc.want {
			t.Fatalf("DescribeTrait(%d) = %q, %v; want %q, %v", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCompilePlacesLockedTraitsFirst(t *testing.T) {
	seed := int64(99)
	spec := Compile(domain.Character{
		Name:              "mira vale",
		Tagline:           "sky courier",
		PhysicalTraits:    []string{"silver braid", " freckles "},
		Personality:       []domain.PersonalitySlider{{Left: "calm", Right: "fiery", Value: 80}, {Left: "a", Right: "b", Value: 10}},
		LockedTraits:      []string{"scar over left eye"},
		AvoidTraits:       []string{"glasses", "Glasses", "beard"},
		ReferenceImageURL: "https://ref/mira.png",
		Seed:              &seed,
		Variation:         25,
	})

	want := "IMPORTANT: scar over left eye, Mira Vale, sky courier, silver braid, freckles, very fiery"
	if spec.Prompt != want {
		t.Fatalf("Prompt = %q\nwant     %q", spec.Prompt, want)
	}
	if spec.Negative != "glasses, beard" {
		t.Fatalf("Negative = %q", spec.Negative)
	}
	if spec.Reference == nil || spec.Reference.Strength != 0.75 || *spec.Reference.Seed != 99 {
		t.Fatalf("Reference = %#v", spec.Reference)
	}
}

func TestCompileWithoutReference(t *testing.T) {
	if spec := Compile(domain.Character{Name: "x"}); spec.Reference != nil {
		t.Fatalf("no reference image should yield no reference")
	}
}

func TestReferenceStrengthIsMonotonic(t *testing.T) {
	if ReferenceStrength(0) != 1 || ReferenceStrength(100) != 0 {
		t.Fatalf("endpoints: %v %v", ReferenceStrength(0), ReferenceStrength(100))
	}
	prev := ReferenceStrength(-10)
	if prev != 1 {
		t.Fatalf("below range should clamp to 1, got %v", prev)
	}
	for v := 0.0; v <= 110; v += 0.5 {
		s := ReferenceStrength(v)
		if s > prev || s < 0 || s > 1 {
			t.Fatalf("strength(%v) = %v after %v", v, s, prev)
		}
		prev = s
	}
}

func TestCombineMergesNegativesAndAppliesToRequest(t *testing.T) {
	spec := Spec{Prompt: "IMPORTANT: red scarf, Mira", Negative: "glasses", Reference: &Reference{ImageURL: "https://ref", Strength: 0.5}}
	req := &workerapi.GenerateRequest{JobID: "j1"}
	ApplyTo(req, spec, "walking in rain, mira", "blurry, Glasses")

	if req.Prompt != "IMPORTANT: red scarf, Mira, walking in rain" {
		t.Fatalf("Prompt = %q", req.Prompt)
	}
	if req.NegativePrompt != "glasses, blurry" {
		t.Fatalf("NegativePrompt = %q", req.NegativePrompt)
	}
	if req.Reference == nil || req.Reference.ImageURL != "https://ref" {
		t.Fatalf("reference not applied")
	}
}

func TestParseCharacterYAML(t *testing.T) {
	doc := `
name: Mira Vale
tagline: sky courier
physical_traits: [silver braid]
personality:
  - {left: calm, right: fiery, value: 60}
locked_traits: [scar over left eye]
avoid_traits: [glasses]
reference_image_url: https://ref/mira.png
seed: 7
variation: 20
`
	c, err := ParseCharacterYAML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseCharacterYAML error: %v", err)
	}
	if c.Name != "Mira Vale" || c.Seed == nil || *c.Seed != 7 || len(c.Personality) != 1 {
		t.Fatalf("unexpected character %#v", c)
	}
	if !strings.Contains(Compile(c).Prompt, "fiery") {
		t.Fatalf("compiled prompt missing slider")
	}
}

func TestParseCharacterYAMLRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":  "name: a\nhair: red\n",
		"slider range": "name: a\npersonality:\n  - {left: x, right: y, value: 150}\n",
		"variation":    "name: a\nvariation: 120\n",
		"missing name": "tagline: b\n",
	} {
		if _, err := ParseCharacterYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
