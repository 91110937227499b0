package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	"kickdl/internal/model"
)

var errSelectionCanceled = errors.New("selection canceled")

type selectionFlags struct {
	all  bool
	pick string
	top  int
}

func (s selectionFlags) validate() error {
	n := 0
	if s.all {
		n++
	}
	if strings.TrimSpace(s.pick) != "" {
		n++
	}
	if s.top > 0 {
		n++
	}
	if s.top < 0 {
		return errors.New("--top must be positive")
	}
	if n > 1 {
		return errors.New("use only one of --all, --pick, --top")
	}
	return nil
}

func (s selectionFlags) empty() bool {
	return !s.all && strings.TrimSpace(s.pick) == "" && s.top == 0
}

// choose applies the selection flags, or opens the picker when none is given.
func (a *app) choose(sel selectionFlags, title string, items []model.Item) ([]model.Item, error) {
	switch {
	case sel.all:
		return items, nil
	case strings.TrimSpace(sel.pick) != "":
		idx, err := parsePick(sel.pick, len(items))
		if err != nil {
			return nil, err
		}
		out := make([]model.Item, 0, len(idx))
		for _, i := range idx {
			out = append(out, items[i-1])
		}
		return out, nil
	case sel.top > 0:
		return items[:min(sel.top, len(items))], nil
	}
	if !a.interactive {
		return nil, errors.New("nothing selected: pass --all, --pick or --top when not running in a terminal")
	}
	return runPicker(title, items)
}

// parsePick turns "1,3,5-8" into sorted, unique 1-based indexes.
func parsePick(raw string, total int) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if a, b, ok := strings.Cut(part, "-"); ok {
			lo, hi = strings.TrimSpace(a), strings.TrimSpace(b)
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid pick %q", part)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid pick %q", part)
		}
		if start > end {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		if start < 1 || end > total {
			return nil, fmt.Errorf("pick %q out of range 1-%d", part, total)
		}
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty pick list")
	}
	out = slice.Unique(out)
	sort.Ints(out)
	return out, nil
}
