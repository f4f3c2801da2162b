package adjust

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SeriesSpec is the ticker history of one fund: earlier symbols first,
// terminal symbol last. A fund that never changed name is a one-element
// chain.
type SeriesSpec []string

// Terminal returns the symbol the merged series is labelled with.
func (s SeriesSpec) Terminal() string { return s[len(s)-1] }

type fundsFile struct {
	Funds []json.RawMessage `json:"funds"`
}

// LoadFunds reads the funds mapping file: a JSON object whose "funds" array
// mixes plain strings (single-ticker series) and string arrays (rename
// chains, terminal symbol last). Tickers are uppercased.
func LoadFunds(path string) ([]SeriesSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funds file: %w", err)
	}
	return ParseFunds(data)
}

// ParseFunds decodes the funds mapping from raw JSON.
func ParseFunds(data []byte) ([]SeriesSpec, error) {
	var f fundsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse funds file: %w", err)
	}

	specs := make([]SeriesSpec, 0, len(f.Funds))
	for i, raw := range f.Funds {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			if s := normalizeTicker(single); s != "" {
				specs = append(specs, SeriesSpec{s})
				continue
			}
			return nil, fmt.Errorf("funds[%d]: empty ticker", i)
		}

		var chain []string
		if err := json.Unmarshal(raw, &chain); err != nil {
			return nil, fmt.Errorf("funds[%d]: want string or string array", i)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("funds[%d]: empty rename chain", i)
		}
		spec := make(SeriesSpec, 0, len(chain))
		for _, t := range chain {
			s := normalizeTicker(t)
			if s == "" {
				return nil, fmt.Errorf("funds[%d]: empty ticker in chain", i)
			}
			spec = append(spec, s)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
