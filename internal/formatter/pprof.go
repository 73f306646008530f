package formatter

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/lockgraph/internal/lockcct"
)

// PprofFormatter writes a gzipped pprof profile shaped like a Go mutex
// profile: one sample per leaf path, with synthetic frames named after the
// tree nodes.
type PprofFormatter struct{}

func (f *PprofFormatter) Name() string        { return "pprof" }
func (f *PprofFormatter) ContentType() string { return "application/octet-stream" }
func (f *PprofFormatter) Extension() string   { return ".pb.gz" }

// Format builds the profile from root and writes it to w.
func (f *PprofFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	p, err := BuildProfile(root, opts)
	if err != nil {
		return err
	}
	return p.Write(w)
}

// BuildProfile converts root into a contentions/delay profile.
func BuildProfile(root *lockcct.Node, opts Options) (*profile.Profile, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "contentions", Unit: "count"},
			{Type: "delay", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "contentions", Unit: "count"},
		Period:     1,
	}

	locations := make(map[string]*profile.Location)
	location := func(name string) *profile.Location {
		if loc, ok := locations[name]; ok {
			return loc
		}
		fn := &profile.Function{
			ID:         uint64(len(p.Function) + 1),
			Name:       name,
			SystemName: name,
		}
		p.Function = append(p.Function, fn)
		loc := &profile.Location{
			ID:   uint64(len(p.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Location = append(p.Location, loc)
		locations[name] = loc
		return loc
	}

	rootName := opts.title(root)
	lockcct.Walk(root, opts.SortBy, opts.MaxDepth, func(n *lockcct.Node, depth int) bool {
		if depth == 0 {
			return true
		}
		if !n.IsLeaf() && (opts.MaxDepth <= 0 || depth < opts.MaxDepth) {
			return true
		}
		if n.Time() == 0 && n.Waits() == 0 {
			return false
		}

		path := n.Path()
		stack := make([]*profile.Location, 0, len(path)+1)
		for i := len(path) - 1; i >= 0; i-- {
			stack = append(stack, location(path[i]))
		}
		stack = append(stack, location(rootName))

		p.Sample = append(p.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{n.Waits(), int64(opts.Status.CountsToDuration(n.Time()))},
		})
		return false
	})

	if err := p.CheckValid(); err != nil {
		return nil, err
	}
	return p, nil
}
