package media

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tone is one entry in the alarm tone catalog. File is relative to the
// tones directory under the media dir.
type Tone struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	File string `yaml:"file" json:"file"`
}

// builtinTones ship with the server so a fresh install can ring without
// any catalog file.
var builtinTones = []Tone{
	{ID: "classic", Name: "Classic Bell", File: "classic-bell.mp3"},
	{ID: "chime", Name: "Soft Chime", File: "soft-chime.mp3"},
	{ID: "radar", Name: "Radar", File: "radar.mp3"},
	{ID: "beacon", Name: "Beacon", File: "beacon.mp3"},
}

type catalogFile struct {
	Tones []Tone `yaml:"tones"`
}

// Catalog maps tone ids to files. A YAML catalog file extends or
// overrides the built-in set.
type Catalog struct {
	tones map[string]Tone
	order []string
}

// LoadCatalog builds the catalog from the built-in tones plus the YAML
// file at path, when one is configured. An entry in the file with an id
// matching a built-in tone replaces it.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := &Catalog{tones: make(map[string]Tone)}
	for _, tone := range builtinTones {
		catalog.add(tone)
	}

	if path == "" {
		return catalog, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tone catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tone catalog: %w", err)
	}
	for _, tone := range file.Tones {
		if tone.ID == "" || tone.File == "" {
			return nil, fmt.Errorf("tone catalog entry missing id or file: %+v", tone)
		}
		catalog.add(tone)
	}

	return catalog, nil
}

func (c *Catalog) add(tone Tone) {
	if _, exists := c.tones[tone.ID]; !exists {
		c.order = append(c.order, tone.ID)
	}
	c.tones[tone.ID] = tone
}

// Lookup returns the tone with the given id.
func (c *Catalog) Lookup(id string) (Tone, bool) {
	tone, ok := c.tones[id]
	return tone, ok
}

// Tones lists all tones in catalog order.
func (c *Catalog) Tones() []Tone {
	out := make([]Tone, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tones[id])
	}
	return out
}
