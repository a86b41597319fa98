package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed tuning.schema.json
var schemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tuning.schema.json", string(schemaJSON))
})

type Tuning struct {
	WorldID         string `yaml:"world_id"`
	TickRateHz      int    `yaml:"tick_rate_hz"`
	ViewRadius      int    `yaml:"view_radius"`
	MaxViewChunks   int    `yaml:"max_view_chunks"`
	WorldBoundaryR  int    `yaml:"world_boundary_r"`
	BiomeRegionSize int    `yaml:"biome_region_size"`
	Seed            int64  `yaml:"seed"`
	StatsEveryTicks int    `yaml:"stats_every_ticks"`

	// Go duration string. Zero or negative disables the unload delay.
	ChunkUnloadDelay string `yaml:"chunk_unload_delay"`
}

func Defaults() Tuning {
	return Tuning{
		WorldID:          "world_1",
		TickRateHz:       20,
		ViewRadius:       6,
		MaxViewChunks:    1024,
		WorldBoundaryR:   4000,
		BiomeRegionSize:  64,
		Seed:             1337,
		StatsEveryTicks:  20,
		ChunkUnloadDelay: "10s",
	}
}

// Load reads path over Defaults. A missing file is returned as an error that
// satisfies os.IsNotExist so callers can fall back to Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := Decode(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Decode validates raw yaml against the tuning schema and overlays it onto t.
func Decode(raw []byte, t *Tuning) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc != nil {
		if err := validateDoc(doc); err != nil {
			return err
		}
	}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return err
	}
	t.Normalize()
	_, err := t.parseDelay()
	return err
}

func validateDoc(doc any) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func (t *Tuning) Normalize() {
	def := Defaults()
	if strings.TrimSpace(t.WorldID) == "" {
		t.WorldID = def.WorldID
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = def.TickRateHz
	}
	if t.MaxViewChunks <= 0 {
		t.MaxViewChunks = def.MaxViewChunks
	}
	if t.BiomeRegionSize <= 0 {
		t.BiomeRegionSize = def.BiomeRegionSize
	}
	if t.StatsEveryTicks <= 0 {
		t.StatsEveryTicks = def.StatsEveryTicks
	}
	if strings.TrimSpace(t.ChunkUnloadDelay) == "" {
		t.ChunkUnloadDelay = def.ChunkUnloadDelay
	}
}

var errBadDelay = errors.New("chunk_unload_delay: not a duration")

func (t Tuning) parseDelay() (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(t.ChunkUnloadDelay))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadDelay, t.ChunkUnloadDelay)
	}
	return d, nil
}

// UnloadDelay returns the configured grace period, clamped at zero. Zero means
// chunks unload as soon as they are unused. An unparsable value (only possible
// when Tuning was built in code) yields the default delay.
func (t Tuning) UnloadDelay() time.Duration {
	d, err := t.parseDelay()
	if err != nil {
		d, _ = Defaults().parseDelay()
	}
	if d < 0 {
		return 0
	}
	return d
}
