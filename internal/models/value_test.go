// Propfix - Event Log Property Repair and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/propfix

package models

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestValueEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null null", Null(), Null(), true},
		{"int int", Int(123), Int(123), true},
		{"int float integral", Int(123), Float(123.0), true},
		{"float int integral", Float(123.0), Int(123), true},
		{"int float fractional", Int(1), Float(1.5), false},
		{"string vs int", String("1"), Int(1), false},
		{"bool vs int", Bool(true), Int(1), false},
		{"null vs empty string", Null(), String(""), false},
		{"large int precision", Int(1<<53 + 1), Float(1 << 53), false},
		{"lists in order", List(Int(1), String("a")), List(Float(1), String("a")), true},
		{"lists reordered", List(Int(1), Int(2)), List(Int(2), Int(1)), false},
		{"maps", Map(map[string]Value{"a": Int(1)}), Map(map[string]Value{"a": Float(1)}), true},
		{"maps differing key", Map(map[string]Value{"a": Int(1)}), Map(map[string]Value{"b": Int(1)}), false},
		{"strings", String("old@x.com"), String("new@x.com"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("%v.Equal(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		kind Kind
	}{
		{`null`, KindNull},
		{`true`, KindBool},
		{`42`, KindInt},
		{`9007199254740993`, KindInt},
		{`4.5`, KindFloat},
		{`1e3`, KindFloat},
		{`"x"`, KindString},
		{`[1,"a"]`, KindList},
		{`{"k":{"n":1}}`, KindMap},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			v, err := ParseValue([]byte(tt.in))
			if err != nil {
				t.Fatalf("ParseValue(%s) error: %v", tt.in, err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("ParseValue(%s) kind = %v, want %v", tt.in, v.Kind(), tt.kind)
			}
		})
	}

	big, _ := ParseValue([]byte(`9007199254740993`))
	if i, _ := big.AsInt(); i != 9007199254740993 {
		t.Errorf("large integer lost precision: %d", i)
	}
}

func TestValueJSON_PreservesKinds(t *testing.T) {
	t.Parallel()

	in := Map(map[string]Value{
		"f":    Float(2),
		"i":    Int(2),
		"list": List(Float(3), Null(), Bool(false)),
	})
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"f":2.0,"i":2,"list":[3.0,null,false]}` {
		t.Errorf("unexpected encoding: %s", data)
	}

	var out Value
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, _ := out.AsMap()
	if m["f"].Kind() != KindFloat || m["i"].Kind() != KindInt {
		t.Errorf("kinds not preserved: f=%v i=%v", m["f"].Kind(), m["i"].Kind())
	}
	if !out.Equal(in) {
		t.Errorf("decoded %v != original %v", out, in)
	}
}

func TestFromAny_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := FromAny(struct{}{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
