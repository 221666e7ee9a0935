// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package evaluation computes precision, recall and F1 with explicit handling
// of degenerate ratios.
package evaluation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ratio is the result of a division that may be undefined. An undefined
// ratio (zero denominator) has Defined false and Value NaN.
type Ratio struct {
	Value   float64
	Defined bool
}

// Undefined is the ratio of a zero denominator.
var Undefined = Ratio{Value: math.NaN()}

// Div returns num/den, or Undefined when den is zero.
func Div(num, den float64) Ratio {
	if den == 0 {
		return Undefined
	}
	return Ratio{Value: num / den, Defined: true}
}

func (r Ratio) String() string {
	if !r.Defined {
		return "undefined"
	}
	return strconv.FormatFloat(r.Value, 'f', 4, 64)
}

// MarshalJSON encodes an undefined ratio as null.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(r.Value, 'g', -1, 64)), nil
}

// MarshalYAML encodes an undefined ratio as the string "undefined".
func (r Ratio) MarshalYAML() (any, error) {
	if !r.Defined {
		return "undefined", nil
	}
	return r.Value, nil
}

// Score holds precision, recall and their harmonic mean.
type Score struct {
	Precision Ratio `json:"precision" yaml:"precision"`
	Recall    Ratio `json:"recall" yaml:"recall"`
	F1        Ratio `json:"f1" yaml:"f1"`
}

// NewScore computes a score from true detections, all detections and all targets.
// F1 is undefined when either precision or recall is, or when both are zero.
func NewScore(trueDets, dets, targets float64) Score {
	p := Div(trueDets, dets)
	r := Div(trueDets, targets)
	s := Score{Precision: p, Recall: r, F1: Undefined}
	if p.Defined && r.Defined && p.Value+r.Value > 0 {
		s.F1 = Ratio{Value: 2 * p.Value * r.Value / (p.Value + r.Value), Defined: true}
	}
	return s
}

func (s Score) String() string {
	return fmt.Sprintf("%s %s %s", s.Precision, s.Recall, s.F1)
}

// Counts accumulates per-label detection statistics.
type Counts struct {
	Targets        []float64
	Detections     []float64
	TrueDetections []float64
}

// NewCounts returns counters for n labels.
func NewCounts(n int) *Counts {
	return &Counts{
		Targets:        make([]float64, n),
		Detections:     make([]float64, n),
		TrueDetections: make([]float64, n),
	}
}

// Target records one gold occurrence of label.
func (c *Counts) Target(label int) {
	if label >= 0 && label < len(c.Targets) {
		c.Targets[label]++
	}
}

// Detect records one detection predicted as pred whose true label is truth.
func (c *Counts) Detect(pred, truth int) {
	if pred < 0 || pred >= len(c.Detections) {
		return
	}
	c.Detections[pred]++
	if pred == truth {
		c.TrueDetections[pred]++
	}
}

// Merge adds the counts of o into c.
func (c *Counts) Merge(o *Counts) {
	for i := range c.Targets {
		c.Targets[i] += o.Targets[i]
		c.Detections[i] += o.Detections[i]
		c.TrueDetections[i] += o.TrueDetections[i]
	}
}

// LabelScore is the score of a single label.
type LabelScore struct {
	Index int    `json:"index" yaml:"index"`
	Label string `json:"label" yaml:"label"`
	Score `yaml:",inline"`
}

// Report holds per-label scores and the micro-averaged total.
type Report struct {
	Labels []LabelScore `json:"labels" yaml:"labels"`
	Total  Score        `json:"total" yaml:"total"`
}

// Report computes per-label and micro-averaged scores. names[i] labels index i;
// missing names fall back to the index.
func (c *Counts) Report(names []string) *Report {
	r := &Report{Labels: make([]LabelScore, len(c.Targets))}
	var tp, dets, targets float64
	for i := range c.Targets {
		name := strconv.Itoa(i)
		if i < len(names) {
			name = names[i]
		}
		r.Labels[i] = LabelScore{
			Index: i,
			Label: name,
			Score: NewScore(c.TrueDetections[i], c.Detections[i], c.Targets[i]),
		}
		tp += c.TrueDetections[i]
		dets += c.Detections[i]
		targets += c.Targets[i]
	}
	r.Total = NewScore(tp, dets, targets)
	return r
}

// String renders the report in the plain text layout of the test commands.
func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("results:\n")
	for _, l := range r.Labels {
		fmt.Fprintf(&b, "label: %d (%s)\n", l.Index, l.Label)
		writeScore(&b, l.Score)
		b.WriteByte('\n')
	}
	b.WriteString("total:\n")
	writeScore(&b, r.Total)
	return b.String()
}

func writeScore(b *strings.Builder, s Score) {
	fmt.Fprintf(b, "   precision: %s\n", s.Precision)
	fmt.Fprintf(b, "   recall:    %s\n", s.Recall)
	fmt.Fprintf(b, "   f1:        %s\n", s.F1)
}

// Confusion is a square confusion matrix indexed [truth][predicted].
type Confusion struct {
	M [][]float64 `json:"matrix" yaml:"matrix"`
}

// NewConfusion returns an empty n by n matrix.
func NewConfusion(n int) *Confusion {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return &Confusion{M: m}
}

// Add records one sample.
func (c *Confusion) Add(truth, pred int) {
	c.M[truth][pred]++
}

// Accuracy is the trace over the total.
func (c *Confusion) Accuracy() Ratio {
	var diag, total float64
	for i, row := range c.M {
		for j, v := range row {
			total += v
			if i == j {
				diag += v
			}
		}
	}
	return Div(diag, total)
}

func (c *Confusion) String() string {
	var b strings.Builder
	for _, row := range c.M {
		for j, v := range row {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%6.0f", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
