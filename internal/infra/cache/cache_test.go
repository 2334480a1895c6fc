package cache

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := New[string](time.Minute)

	c.Set("key1", "value1")

	got, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key1 to be present")
	}
	if got != "value1" {
		t.Errorf("expected value1, got %s", got)
	}
}

func TestGetMissing(t *testing.T) {
	c := New[string](time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing key to not be found")
	}
}

func TestExpiry(t *testing.T) {
	c := New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("expected key1 to be expired")
	}
}

func TestDelete(t *testing.T) {
	c := New[string](time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Error("expected key1 to be deleted")
	}
}

func TestLen(t *testing.T) {
	c := New[int](50 * time.Millisecond)

	c.Set("a", 1)
	c.Set("b", 2)
	if c.Len() != 2 {
		t.Errorf("expected 2 live entries, got %d", c.Len())
	}

	time.Sleep(80 * time.Millisecond)
	if c.Len() != 0 {
		t.Errorf("expected 0 live entries after expiry, got %d", c.Len())
	}
}

func TestStructValues(t *testing.T) {
	type record struct {
		ID   string
		Name string
	}

	c := New[*record](time.Minute)
	c.Set("r1", &record{ID: "1", Name: "Ada"})

	got, ok := c.Get("r1")
	if !ok {
		t.Fatal("expected r1 to be present")
	}
	if got.Name != "Ada" {
		t.Errorf("expected Ada, got %s", got.Name)
	}
}
