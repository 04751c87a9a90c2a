package factory

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type sample struct{ A int }

type sampleConf struct {
	A int `json:"a"`
}

// Test registry registration and instantiation using Decode.
func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("s", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{A: c.A}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "s", Conf: map[string]any{"a": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.A != 3 {
		t.Fatalf("expected 3 got %d", inst.A)
	}
}

// Test duplicate registration and unknown type errors.
func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", nil); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("", func(map[string]any) (int, error) { return 1, nil }); err == nil {
		t.Fatal("expected empty name error")
	}
	_, err := reg.Create(ModuleConfig{Type: "y"})
	if err == nil || !strings.Contains(err.Error(), "known: x") {
		t.Fatalf("expected unknown type error listing x, got %v", err)
	}

	_ = reg.Register("broken", func(map[string]any) (int, error) { return 0, errors.New("bad conf") })
	if _, err := reg.Create(ModuleConfig{Type: "broken"}); err == nil || err.Error() != "broken: bad conf" {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "broken" || got[1] != "x" {
		t.Fatalf("unexpected names %v", got)
	}
}

// Test weakly typed input and duration strings.
func TestDecode_Durations(t *testing.T) {
	var c struct {
		Timeout time.Duration `json:"timeout"`
		QoS     int           `json:"qos"`
	}
	if err := Decode(map[string]any{"timeout": "1m30s", "qos": "1"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Timeout != 90*time.Second {
		t.Fatalf("expected 90s got %v", c.Timeout)
	}
	if c.QoS != 1 {
		t.Fatalf("expected qos 1 got %d", c.QoS)
	}
}
