package advantageair

import (
	"reflect"
	"testing"
)

func TestUpdate(t *testing.T) {
	tests := []struct {
		name string
		dst  Tree
		src  Tree
		want Tree
	}{
		{
			name: "empty source leaves destination unchanged",
			dst:  Tree{"ac1": map[string]any{"info": map[string]any{"state": "on"}}},
			src:  Tree{},
			want: Tree{"ac1": map[string]any{"info": map[string]any{"state": "on"}}},
		},
		{
			name: "nested update keeps siblings",
			dst: Tree{"ac1": map[string]any{
				"info":  map[string]any{"state": "on", "mode": "cool"},
				"zones": map[string]any{"z01": map[string]any{"state": "open"}},
			}},
			src: Tree{"ac1": map[string]any{"info": map[string]any{"mode": "heat"}}},
			want: Tree{"ac1": map[string]any{
				"info":  map[string]any{"state": "on", "mode": "heat"},
				"zones": map[string]any{"z01": map[string]any{"state": "open"}},
			}},
		},
		{
			name: "scalar replaces mapping",
			dst:  Tree{"a": map[string]any{"b": 1.0}},
			src:  Tree{"a": 2.0},
			want: Tree{"a": 2.0},
		},
		{
			name: "mapping replaces scalar",
			dst:  Tree{"a": 2.0},
			src:  Tree{"a": map[string]any{"b": 1.0}},
			want: Tree{"a": map[string]any{"b": 1.0}},
		},
		{
			name: "nil destination",
			dst:  nil,
			src:  Tree{"a": Tree{"b": "c"}},
			want: Tree{"a": map[string]any{"b": "c"}},
		},
		{
			name: "slices are replaced not merged",
			dst:  Tree{"a": []any{1.0, 2.0}},
			src:  Tree{"a": []any{3.0}},
			want: Tree{"a": []any{3.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Update(tt.dst, tt.src)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Update() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdate_DisjointUpdatesCommute(t *testing.T) {
	a := Tree{"ac1": map[string]any{"info": map[string]any{"setTemp": 22.0}}}
	b := Tree{"ac1": map[string]any{"zones": map[string]any{"z02": map[string]any{"state": "close"}}}}
	base := Tree{"ac1": map[string]any{"info": map[string]any{"state": "on"}}}

	ab := Update(Update(Clone(base), a), b)
	ba := Update(Update(Clone(base), b), a)
	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("update order matters for disjoint keys: %v vs %v", ab, ba)
	}

	grouped := Update(Clone(base), Update(Clone(a), b))
	if !reflect.DeepEqual(ab, grouped) {
		t.Errorf("update(update(d,a),b) = %v, update(d, update(a,b)) = %v", ab, grouped)
	}
}

func TestUpdate_DoesNotAliasSource(t *testing.T) {
	src := Tree{"ac1": map[string]any{"info": map[string]any{"state": "on"}}}
	dst := Update(nil, src)

	Update(dst, Tree{"ac1": map[string]any{"info": map[string]any{"state": "off"}}})

	info := src["ac1"].(map[string]any)["info"].(map[string]any)
	if info["state"] != "on" {
		t.Errorf("source mutated through merged result: state = %v", info["state"])
	}
}

func TestClone(t *testing.T) {
	orig := Tree{"a": map[string]any{"b": map[string]any{"c": 1.0}}}
	cp := Clone(orig)
	cp["a"].(map[string]any)["b"].(map[string]any)["c"] = 2.0

	if got := orig["a"].(map[string]any)["b"].(map[string]any)["c"]; got != 1.0 {
		t.Errorf("Clone() shares nested maps: original c = %v", got)
	}
}
