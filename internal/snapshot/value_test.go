package snapshot

import (
	"encoding/json"
	"testing"
)

func TestValue_EqualScalars(t *testing.T) {
	if !String("a").Equal(String("a")) {
		t.Error("equal strings should compare equal")
	}
	if String("a").Equal(String("b")) {
		t.Error("different strings should not compare equal")
	}
	if String("1").Equal(Number(1)) {
		t.Error("values of different kinds should not compare equal")
	}
	if !Bool(true).Equal(Bool(true)) {
		t.Error("equal bools should compare equal")
	}
	if Number(1).Equal(Number(2)) {
		t.Error("different numbers should not compare equal")
	}
}

func TestValue_EqualAggregates(t *testing.T) {
	a := Map(map[string]Value{
		"x": Number(1),
		"y": Array([]Value{String("one"), Bool(false)}),
	})
	b := Map(map[string]Value{
		"y": Array([]Value{String("one"), Bool(false)}),
		"x": Number(1),
	})
	if !a.Equal(b) {
		t.Error("maps with the same entries should compare equal")
	}

	c := Map(map[string]Value{"x": Number(1)})
	if a.Equal(c) {
		t.Error("maps with different sizes should not compare equal")
	}
}

func TestValue_JSONRoundTripTagged(t *testing.T) {
	original := Map(map[string]Value{
		"name":    String("Greeter"),
		"enabled": Bool(true),
		"count":   Number(3),
	})

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Value
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !original.Equal(decoded) {
		t.Errorf("round trip changed the value: %s", data)
	}
}

func TestValue_UnmarshalAmbiguous(t *testing.T) {
	cases := []struct {
		input string
		want  Value
	}{
		{`"hello"`, String("hello")},
		{`true`, Bool(true)},
		{`4.5`, Number(4.5)},
		{`[1, 2]`, Array([]Value{Number(1), Number(2)})},
		{`{"a": "b"}`, Map(map[string]Value{"a": String("b")})},
	}
	for _, tc := range cases {
		var got Value
		if err := json.Unmarshal([]byte(tc.input), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.input, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("unmarshal %s = %+v, want %+v", tc.input, got, tc.want)
		}
	}
}

func TestValue_UnmarshalExplicitTag(t *testing.T) {
	var got Value
	if err := json.Unmarshal([]byte(`{"type": "String", "value": "x"}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(String("x")) {
		t.Errorf("got %+v, want String(x)", got)
	}
}

func TestValue_UnmarshalRejectsNull(t *testing.T) {
	var got Value
	if err := json.Unmarshal([]byte(`null`), &got); err == nil {
		t.Error("null should not decode into a value")
	}
}

func TestSnapshot_EqualAndSort(t *testing.T) {
	build := func() *Snapshot {
		root := New("Folder", "Root")
		b := New("ModuleScript", "B")
		a := New("ModuleScript", "A")
		a.Properties["Source"] = String("return 1")
		root.Children = []*Snapshot{b, a}
		root.SortChildren()
		return root
	}

	left, right := build(), build()
	if !left.Equal(right) {
		t.Error("identical builds should be structurally equal")
	}
	if left.Children[0].Name != "A" {
		t.Errorf("children not sorted: first is %q", left.Children[0].Name)
	}

	right.Children[1].Properties["Source"] = String("return 2")
	if left.Equal(right) {
		t.Error("property drift should break equality")
	}
}
