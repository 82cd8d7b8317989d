package ccx

import (
	"testing"

	"pgregory.net/rapid"
)

// The table must behave like a plain map under any sequential interleaving
// of its operations, resizes included.
func TestHashMapModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewHashMap[int, int](WithCapacity(4), WithAutoShrink())
		model := make(map[int]int)
		key := rapid.IntRange(0, 63)
		val := rapid.IntRange(0, 1<<20)

		t.Repeat(map[string]func(*rapid.T){
			"insert": func(t *rapid.T) {
				k, v := key.Draw(t, "k"), val.Draw(t, "v")
				err := m.Insert(k, v)
				if _, exists := model[k]; exists {
					if !IsDuplicateKey(err) {
						t.Fatalf("insert existing %d: %v", k, err)
					}
				} else {
					if err != nil {
						t.Fatalf("insert fresh %d: %v", k, err)
					}
					model[k] = v
				}
			},
			"remove": func(t *rapid.T) {
				k := key.Draw(t, "k")
				v, ok := m.Remove(k)
				mv, exists := model[k]
				if ok != exists || (ok && v != mv) {
					t.Fatalf("remove %d = (%d, %v), model (%d, %v)", k, v, ok, mv, exists)
				}
				delete(model, k)
			},
			"update": func(t *rapid.T) {
				k, v := key.Draw(t, "k"), val.Draw(t, "v")
				ok := m.Update(k, func(p *int) { *p = v })
				if _, exists := model[k]; ok != exists {
					t.Fatalf("update %d hit=%v, model %v", k, ok, exists)
				}
				if ok {
					model[k] = v
				}
			},
			"upsert": func(t *rapid.T) {
				k, v := key.Draw(t, "k"), val.Draw(t, "v")
				m.Upsert(k, func() int { return v }, func(p *int) { *p = v })
				model[k] = v
			},
			"load": func(t *rapid.T) {
				k := key.Draw(t, "k")
				v, ok := m.Load(k)
				mv, exists := model[k]
				if ok != exists || (ok && v != mv) {
					t.Fatalf("load %d = (%d, %v), model (%d, %v)", k, v, ok, mv, exists)
				}
			},
			"len": func(t *rapid.T) {
				if n := m.Len(); n != len(model) {
					t.Fatalf("len = %d, model %d", n, len(model))
				}
			},
			"clear": func(t *rapid.T) {
				m.Clear()
				clear(model)
			},
			"": func(t *rapid.T) {
				// Invariant: every model entry is readable.
				for k, v := range model {
					got, ok := m.Load(k)
					if !ok || got != v {
						t.Fatalf("model key %d = (%d, %v), want %d", k, got, ok, v)
					}
				}
			},
		})
	})
}

// Property: one slot across generations per key. Forcing collisions keeps
// every key in one cell chain, so duplicates would be visible to ForEach.
func TestHashMapModelColliding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewHashMap[int, int](WithHasher(collideHash))
		model := make(map[int]int)
		key := rapid.IntRange(0, 80)

		t.Repeat(map[string]func(*rapid.T){
			"insert": func(t *rapid.T) {
				k := key.Draw(t, "k")
				if err := m.Insert(k, k); err == nil {
					model[k] = k
				}
			},
			"remove": func(t *rapid.T) {
				k := key.Draw(t, "k")
				m.Remove(k)
				delete(model, k)
			},
			"": func(t *rapid.T) {
				seen := make(map[int]bool)
				m.ForEach(func(k, v int) bool {
					if seen[k] {
						t.Fatalf("key %d observed twice", k)
					}
					seen[k] = true
					return true
				})
				if len(seen) != len(model) {
					t.Fatalf("visited %d keys, model %d", len(seen), len(model))
				}
			},
		})
	})
}
