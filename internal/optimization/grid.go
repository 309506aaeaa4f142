package optimization

import (
	"strconv"
	"strings"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// ParseGrid reads a grid written as "name=v1,v2;other=v3". Range order
// follows the text.
func ParseGrid(text string) (ParamGrid, error) {
	var grid ParamGrid
	seen := make(map[string]struct{})

	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, types.Malformed("grid range %q: want name=v1,v2", part)
		}
		if _, dup := seen[name]; dup {
			return nil, types.Malformed("grid range %q repeated", name)
		}
		seen[name] = struct{}{}

		r := ParamRange{Name: name}
		for _, raw := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, types.Malformed("grid range %q: %v", name, err)
			}
			r.Values = append(r.Values, v)
		}
		grid = append(grid, r)
	}

	if len(grid) == 0 {
		return nil, types.Malformed("empty grid")
	}
	return grid, nil
}

// String renders the grid in the form accepted by ParseGrid.
func (g ParamGrid) String() string {
	parts := make([]string, len(g))
	for i, r := range g {
		values := make([]string, len(r.Values))
		for j, v := range r.Values {
			values[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		parts[i] = r.Name + "=" + strings.Join(values, ",")
	}
	return strings.Join(parts, ";")
}
