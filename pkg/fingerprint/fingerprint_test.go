package fingerprint

import (
	"errors"
	"sync"
	"testing"
)

func TestOfDeterministic(t *testing.T) {
	payload := map[string]any{"data": "I love this"}

	h1, err := Of(payload)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Of(payload)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("same input should produce same fingerprint")
	}
	if len(h1) != Size {
		t.Errorf("expected %d hex chars, got %d", Size, len(h1))
	}
}

func TestFromJSONMatchesOf(t *testing.T) {
	fromRaw, err := FromJSON([]byte(`{"data":"I love this"}`))
	if err != nil {
		t.Fatal(err)
	}
	fromValue, err := Of(map[string]any{"data": "I love this"})
	if err != nil {
		t.Fatal(err)
	}
	if fromRaw != fromValue {
		t.Errorf("raw and decoded payloads should share a fingerprint: %s != %s", fromRaw, fromValue)
	}
}

func TestKeyOrderAndWhitespace(t *testing.T) {
	a, err := FromJSON([]byte(`{"b":1,"a":{"y":[1,2],"x":true}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromJSON([]byte("{ \"a\": {\"x\": true, \"y\": [1, 2]},\n \"b\": 1 }"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("key order and whitespace should not change the fingerprint")
	}
}

func TestDistinctPayloads(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"DifferentText", `{"data":"I love this"}`, `{"data":"I hate this"}`},
		{"ArrayOrder", `[1,2]`, `[2,1]`},
		{"NumberForm", `{"n":1}`, `{"n":1.0}`},
		{"StringVsNumber", `{"n":"1"}`, `{"n":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, err := FromJSON([]byte(tt.a))
			if err != nil {
				t.Fatal(err)
			}
			hb, err := FromJSON([]byte(tt.b))
			if err != nil {
				t.Fatal(err)
			}
			if ha == hb {
				t.Errorf("%s and %s should differ", tt.a, tt.b)
			}
		})
	}
}

func TestCanonicalJSON(t *testing.T) {
	got, err := CanonicalJSON([]byte(`{"z":"<b>","a":[3, 1.50]}`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":[3,1.50],"z":"<b>"}`
	if string(got) != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestInvalidJSON(t *testing.T) {
	for _, raw := range []string{``, `{`, `{"a":1} {"b":2}`, `not json`} {
		if _, err := FromJSON([]byte(raw)); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("FromJSON(%q): expected ErrInvalidJSON, got %v", raw, err)
		}
	}
}

func TestConcurrentUse(t *testing.T) {
	want, _ := FromJSON([]byte(`{"data":"concurrent"}`))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := FromJSON([]byte(`{"data":"concurrent"}`))
			if err != nil || got != want {
				t.Errorf("got %s, %v", got, err)
			}
		}()
	}
	wg.Wait()
}
