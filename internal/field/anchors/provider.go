package anchors

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/pointfield/internal/field/geom"
)

// maxPointFileSize bounds point-cloud files read from disk (256MB).
const maxPointFileSize = 256 * 1024 * 1024

// Provider delivers immutable per-level anchor positions at construction.
type Provider interface {
	Positions() ([][]geom.Vec, error)
}

// StaticProvider serves positions already held in memory.
type StaticProvider [][]geom.Vec

// Positions implements Provider.
func (s StaticProvider) Positions() ([][]geom.Vec, error) { return s, nil }

// FileProvider reads anchor positions from a .json or .csv file.
//
// JSON layout: {"levels": [[[x, y, z], ...], ...]}.
// CSV layout: one "level,x,y,z" row per anchor; a header row is skipped.
type FileProvider struct {
	Path string
}

// Positions implements Provider.
func (f FileProvider) Positions() ([][]geom.Vec, error) {
	clean := filepath.Clean(f.Path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat point file: %w", err)
	}
	if info.Size() > maxPointFileSize {
		return nil, fmt.Errorf("point file too large: %d bytes (max %d)", info.Size(), maxPointFileSize)
	}

	fh, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to open point file: %w", err)
	}
	defer fh.Close()

	switch ext := strings.ToLower(filepath.Ext(clean)); ext {
	case ".json":
		return ReadJSON(fh)
	case ".csv":
		return ReadCSV(fh)
	default:
		return nil, fmt.Errorf("unsupported point file extension %q", ext)
	}
}

type jsonPoints struct {
	Levels [][][3]float64 `json:"levels"`
}

// ReadJSON decodes {"levels": [[[x,y,z],...],...]}.
func ReadJSON(r io.Reader) ([][]geom.Vec, error) {
	var doc jsonPoints
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse point JSON: %w", err)
	}
	out := make([][]geom.Vec, len(doc.Levels))
	for l, pts := range doc.Levels {
		out[l] = make([]geom.Vec, len(pts))
		for i, p := range pts {
			out[l][i] = geom.FromArray(p)
		}
	}
	return out, nil
}

// ReadCSV decodes level,x,y,z rows. Levels are created densely up to the
// highest index seen; rows keep file order within a level.
func ReadCSV(r io.Reader) ([][]geom.Vec, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var out [][]geom.Vec
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read point CSV: %w", err)
		}

		lvl, err := strconv.Atoi(rec[0])
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: invalid level %q: %w", line, rec[0], err)
		}
		if lvl < 0 {
			return nil, fmt.Errorf("line %d: negative level %d", line, lvl)
		}

		var xyz [3]float64
		for i := 0; i < 3; i++ {
			if xyz[i], err = strconv.ParseFloat(rec[i+1], 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid coordinate %q: %w", line, rec[i+1], err)
			}
		}
		for len(out) <= lvl {
			out = append(out, nil)
		}
		out[lvl] = append(out[lvl], geom.FromArray(xyz))
	}
	return out, nil
}
