// Package query compiles rule definitions into executable searches over
// the observation store. The language is a flat list of term:value
// filters; matches are contiguous runs of filtered observations per
// object, with partial runs carried between searches so an object
// spanning two analysis passes yields one match, not two.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"vigil"
	"vigil/internal/rules"
	"vigil/internal/store"
)

// mergeGapMs is the largest silence inside one object's run that still
// counts as the same match.
const mergeGapMs = 2000

// Engine compiles rule queries against a store.
type Engine struct {
	store *store.Store
}

func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// Compile parses def.Query and binds it to def's camera. An empty query
// matches every observation.
func (e *Engine) Compile(def vigil.RuleDef) (rules.Query, error) {
	c := &compiled{
		eng:  e,
		def:  def,
		open: make(map[int64]*run),
	}
	for _, term := range strings.Fields(def.Query) {
		key, value, ok := strings.Cut(term, ":")
		if !ok || value == "" {
			return nil, fmt.Errorf("rule %q: malformed term %q", def.Name, term)
		}
		switch key {
		case "type":
			c.types = asSet(value)
		case "action":
			c.actions = asSet(value)
		case "min_area":
			pct, err := strconv.Atoi(value)
			if err != nil || pct < 0 || pct > 100 {
				return nil, fmt.Errorf("rule %q: min_area wants a percentage, got %q", def.Name, value)
			}
			c.minAreaPct = pct
		default:
			return nil, fmt.Errorf("rule %q: unknown term %q", def.Name, key)
		}
	}
	return c, nil
}

func asSet(csv string) map[string]bool {
	set := make(map[string]bool)
	for _, v := range strings.Split(csv, ",") {
		set[v] = true
	}
	return set
}

// run is an object's in-progress match.
type run struct {
	startMs int64
	lastMs  int64
}

type compiled struct {
	eng *Engine
	def vigil.RuleDef

	types      map[string]bool
	actions    map[string]bool
	minAreaPct int

	coordW, coordH int

	open map[int64]*run
}

func (c *compiled) Reset() {
	c.open = make(map[int64]*run)
}

func (c *compiled) SetCoordSpace(w, h int) {
	c.coordW, c.coordH = w, h
}

// Search scans [startMs, endMs) and returns the matches that completed
// inside it. Runs still alive at the end of the range stay open and
// finish on a later call.
func (c *compiled) Search(startMs, endMs int64) ([]rules.Match, error) {
	obs, err := c.eng.store.SearchRange(c.def.Camera, startMs, endMs)
	if err != nil {
		return nil, err
	}

	var out []rules.Match
	for _, ob := range obs {
		if !c.accepts(ob) {
			continue
		}
		r := c.open[ob.Object]
		if r == nil {
			c.open[ob.Object] = &run{startMs: ob.FrameMs, lastMs: ob.FrameMs}
			continue
		}
		if ob.FrameMs-r.lastMs > mergeGapMs {
			out = append(out, c.match(ob.Object, r))
			c.open[ob.Object] = &run{startMs: ob.FrameMs, lastMs: ob.FrameMs}
			continue
		}
		r.lastMs = ob.FrameMs
	}

	// Runs quiet long enough before the range end cannot be extended by
	// later observations.
	for object, r := range c.open {
		if endMs-r.lastMs > mergeGapMs {
			out = append(out, c.match(object, r))
			delete(c.open, object)
		}
	}
	return out, nil
}

func (c *compiled) match(object int64, r *run) rules.Match {
	return rules.Match{
		Camera:  c.def.Camera,
		Rule:    c.def.Name,
		Object:  object,
		StartMs: r.startMs,
		StopMs:  r.lastMs,
	}
}

func (c *compiled) accepts(ob store.Observation) bool {
	if c.types != nil && !c.types[ob.ObjectType] {
		return false
	}
	if c.actions != nil && !c.actions[ob.Action] {
		return false
	}
	if c.minAreaPct > 0 && c.coordW > 0 && c.coordH > 0 {
		area := (ob.Box[2] - ob.Box[0]) * (ob.Box[3] - ob.Box[1])
		if area*100 < c.minAreaPct*c.coordW*c.coordH {
			return false
		}
	}
	return true
}
