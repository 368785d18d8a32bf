package lut

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/undulator/internal/motion"
)

// maxLineBytes caps a single line of a table file.
const maxLineBytes = 64 * 1024

// section is a run of data lines under one polarization header.
type section struct {
	harmonic int
	pol      Polarization
	line     int
	entries  []Entry
}

// ParseFile reads a lookup-table file. See Parse for the format.
func ParseFile(path string) (map[int]*LookUpTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, motion.Configuration(path, err)
	}
	defer f.Close()
	return Parse(path, f)
}

// Parse reads lookup tables keyed by harmonic. The format is line oriented:
//
//	# harmonic 1
//	# polarization LH
//	100  5.0  1.0
//	200 10.0  2.0
//	# polarization LA 30
//	...
//
// Data lines are whitespace-separated energy, gap and phase values. Any
// other line starting with '#' is a comment. Data before the first harmonic
// header belongs to harmonic 1. Every failure is a ConfigurationFailure
// naming source.
func Parse(source string, r io.Reader) (map[int]*LookUpTable, error) {
	var (
		sections []*section
		cur      *section
		harmonic = 1
		lineNo   int
	)
	fail := func(format string, args ...any) (map[int]*LookUpTable, error) {
		return nil, motion.Configuration(source, fmt.Errorf("line %d: "+format, append([]any{lineNo}, args...)...))
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			key, rest := header(line)
			switch key {
			case "harmonic":
				h, err := strconv.Atoi(rest)
				if err != nil || h < 1 {
					return fail("bad harmonic %q", rest)
				}
				harmonic = h
				cur = nil
			case "polarization":
				pol, err := ParsePolarization(rest)
				if err != nil {
					return fail("%v", err)
				}
				cur = &section{harmonic: harmonic, pol: pol, line: lineNo}
				sections = append(sections, cur)
			}
			continue
		}
		if cur == nil {
			return fail("data outside a polarization section")
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fail("want 3 columns, got %d", len(fields))
		}
		var vals [3]float64
		for i, fld := range fields {
			v, err := strconv.ParseFloat(fld, 64)
			if err != nil {
				return fail("bad number %q", fld)
			}
			vals[i] = v
		}
		cur.entries = append(cur.entries, Entry{Energy: vals[0], First: vals[1], Second: vals[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, motion.Configuration(source, err)
	}

	tables := make(map[int]*LookUpTable)
	for _, s := range sections {
		l, ok := tables[s.harmonic]
		if !ok {
			l = New(s.harmonic)
			tables[s.harmonic] = l
		}
		var err error
		if s.pol.Mode == ModeLinearArbitrary {
			err = l.AddAngleTable(s.pol.Angle, s.entries)
		} else {
			err = l.SetTable(s.pol.Mode, s.entries)
		}
		if err != nil {
			return nil, motion.Configuration(source, fmt.Errorf("section at line %d (harmonic %d): %w", s.line, s.harmonic, err))
		}
	}
	if len(tables) == 0 {
		return nil, motion.Configuration(source, fmt.Errorf("no tables"))
	}
	return tables, nil
}

// header splits "# key rest" into a lowercase key and the trimmed rest.
func header(line string) (key, rest string) {
	fields := strings.Fields(strings.TrimLeft(line, "#"))
	if len(fields) == 0 {
		return "", ""
	}
	return strings.ToLower(fields[0]), strings.Join(fields[1:], " ")
}

// Harmonics returns the keys of tables in ascending order.
func Harmonics(tables map[int]*LookUpTable) []int {
	out := make([]int, 0, len(tables))
	for h := range tables {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}
