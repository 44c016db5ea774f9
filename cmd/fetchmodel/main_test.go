package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/namuol/magic-eye-mirror/deps"
)

func TestSelected(t *testing.T) {
	all, err := selected("")
	if err != nil || len(all) != len(deps.GetAll()) {
		t.Fatalf("selected(\"\") = %d deps, %v", len(all), err)
	}

	one, err := selected(" " + deps.DepthModelID + " ,")
	if err != nil || len(one) != 1 || one[0].ID != deps.DepthModelID {
		t.Errorf("selected(depth-model) = %v, %v", one, err)
	}

	if _, err := selected("nope"); err == nil {
		t.Error("selected(nope) accepted an unknown id")
	}
}

func TestRunCheckOnly(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, nil, deps.DepthModelID, true, false); err != nil {
		t.Fatalf("run(check) error = %v", err)
	}
	if !strings.Contains(out.String(), deps.DepthModelID) {
		t.Errorf("output %q does not mention %s", out.String(), deps.DepthModelID)
	}
}

func TestProgressBarCountsResumed(t *testing.T) {
	w := progressBar("test")(100, 40)
	if w == nil {
		t.Fatal("progressBar returned nil writer")
	}
	if n, err := w.Write(make([]byte, 10)); err != nil || n != 10 {
		t.Errorf("Write() = %d, %v", n, err)
	}
}
