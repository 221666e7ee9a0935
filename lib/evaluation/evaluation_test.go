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

package evaluation

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDiv(t *testing.T) {
	r := Div(1, 4)
	assert.True(t, r.Defined)
	assert.Equal(t, 0.25, r.Value)
	assert.Equal(t, "0.2500", r.String())

	r = Div(0, 0)
	assert.False(t, r.Defined)
	assert.True(t, math.IsNaN(r.Value))
	assert.Equal(t, "undefined", r.String())
}

func TestNewScore(t *testing.T) {
	tests := []struct {
		name           string
		tp, dets, tgts float64
		p, r, f        Ratio
	}{
		{"perfect", 2, 2, 2, Ratio{1, true}, Ratio{1, true}, Ratio{1, true}},
		{"half", 1, 2, 2, Ratio{0.5, true}, Ratio{0.5, true}, Ratio{0.5, true}},
		{"no detections", 0, 0, 3, Undefined, Ratio{0, true}, Undefined},
		{"no targets", 0, 3, 0, Ratio{0, true}, Undefined, Undefined},
		{"all wrong", 0, 2, 2, Ratio{0, true}, Ratio{0, true}, Undefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScore(tt.tp, tt.dets, tt.tgts)
			assertRatio(t, tt.p, s.Precision)
			assertRatio(t, tt.r, s.Recall)
			assertRatio(t, tt.f, s.F1)
		})
	}
}

func assertRatio(t *testing.T, want, got Ratio) {
	t.Helper()
	require.Equal(t, want.Defined, got.Defined)
	if want.Defined {
		assert.InDelta(t, want.Value, got.Value, 1e-12)
	}
}

func TestCountsReport(t *testing.T) {
	c := NewCounts(3)
	c.Target(0)
	c.Target(1)
	c.Detect(0, 0)
	c.Detect(2, 3)
	c.Detect(5, 5)

	r := c.Report([]string{"PERSON", "LOCATION"})
	require.Len(t, r.Labels, 3)
	assert.Equal(t, "PERSON", r.Labels[0].Label)
	assert.Equal(t, "2", r.Labels[2].Label)
	assertRatio(t, Ratio{1, true}, r.Labels[0].Precision)
	assertRatio(t, Undefined, r.Labels[1].Precision)
	assertRatio(t, Ratio{0, true}, r.Labels[1].Recall)
	assertRatio(t, Undefined, r.Labels[2].Recall)
	assertRatio(t, Ratio{0.5, true}, r.Total.Precision)
	assertRatio(t, Ratio{0.5, true}, r.Total.Recall)
	assert.Contains(t, r.String(), "undefined")

	other := NewCounts(3)
	other.Target(2)
	c.Merge(other)
	assert.Equal(t, []float64{1, 1, 1}, c.Targets)
}

func TestReport_Encoding(t *testing.T) {
	c := NewCounts(1)
	c.Target(0)
	r := c.Report([]string{"PERSON"})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"labels":[{"index":0,"label":"PERSON","precision":null,"recall":0,"f1":null}],"total":{"precision":null,"recall":0,"f1":null}}`, string(data))

	out, err := yaml.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), "precision: undefined")
}

func TestConfusion(t *testing.T) {
	c := NewConfusion(2)
	assertRatio(t, Undefined, c.Accuracy())
	c.Add(0, 0)
	c.Add(1, 1)
	c.Add(1, 0)
	c.Add(1, 1)
	assertRatio(t, Ratio{0.75, true}, c.Accuracy())
	assert.Equal(t, "     1      0\n     1      2\n", c.String())
}
