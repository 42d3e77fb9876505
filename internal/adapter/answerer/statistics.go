package answerer

import (
	"strconv"
	"strings"

	"metasearch/internal/domain"
)

// Statistics answers "<func> <n1> <n2> ..." for min, max, avg, sum and prod.
type Statistics struct {
	funcs map[string]func([]float64) float64
}

// NewStatistics creates the statistics answerer.
func NewStatistics() *Statistics {
	return &Statistics{funcs: map[string]func([]float64) float64{
		"min": func(xs []float64) float64 {
			m := xs[0]
			for _, x := range xs[1:] {
				m = min(m, x)
			}
			return m
		},
		"max": func(xs []float64) float64 {
			m := xs[0]
			for _, x := range xs[1:] {
				m = max(m, x)
			}
			return m
		},
		"avg": func(xs []float64) float64 { return sum(xs) / float64(len(xs)) },
		"sum": sum,
		"prod": func(xs []float64) float64 {
			p := 1.0
			for _, x := range xs {
				p *= x
			}
			return p
		},
	}}
}

func (s *Statistics) Keywords() []string { return []string{"min", "max", "avg", "sum", "prod"} }

func (s *Statistics) Answer(query string) []domain.Answer {
	parts := strings.Fields(query)
	if len(parts) < 2 {
		return nil
	}
	fn, ok := s.funcs[strings.ToLower(parts[0])]
	if !ok {
		return nil
	}
	args := make([]float64, 0, len(parts)-1)
	for _, p := range parts[1:] {
		x, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil
		}
		args = append(args, x)
	}
	return []domain.Answer{{Answer: strconv.FormatFloat(fn(args), 'g', -1, 64)}}
}

func (s *Statistics) Info() Info {
	return Info{
		Name:        "statistics",
		Description: "Compute min, max, avg, sum or prod of the arguments",
		Examples:    []string{"avg 123 548 2.04 24.2"},
	}
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}
