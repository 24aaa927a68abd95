// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sync

import (
	"strings"
	"testing"
)

func TestRunEndToEnd(t *testing.T) {
	lines := strings.Join([]string{
		"1 2 0 0.000000110",
		"1 2 0.000000010 0.000000118",
		"2 1 0.000000105 0.000000005",
		"2 1 0.000000122 0.000000015",
	}, "\n")
	src := NewTextSource(strings.NewReader(lines))

	factors, err := Run(src, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var f2 *Factor
	for i := range factors {
		if factors[i].From == 2 {
			f2 = &factors[i]
		}
	}
	if f2 == nil {
		t.Fatal("missing factor for trace 2")
	}
	if f2.Class == Absent {
		t.Errorf("Class = %v, want a real factor", f2.Class)
	}
}

func TestRunNoExchanges(t *testing.T) {
	src := NewTextSource(strings.NewReader(""))
	factors, err := Run(src, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(factors) != 1 || factors[0].From != 1 || factors[0].Class != Exact {
		t.Errorf("factors = %+v, want single identity factor for trace 1", factors)
	}
}

func TestPairOfIsUnordered(t *testing.T) {
	if pairOf(1, 2) != pairOf(2, 1) {
		t.Error("pairOf should be symmetric")
	}
	if k := pairOf(2, 1); k.lo != 1 || k.hi != 2 {
		t.Errorf("pairOf(2,1) = %+v, want lo=1 hi=2", k)
	}
}
