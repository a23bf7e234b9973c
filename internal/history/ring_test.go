package history

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestRing(t *testing.T) {
	t.Run("evicts_oldest_at_capacity", func(t *testing.T) {
		r := NewRing(2, zerolog.Nop())
		r.Add(NewCommand(Command{Text: "first"}))
		r.Add(NewCommand(Command{Text: "second"}))
		r.Add(NewCommand(Command{Text: "third"}))

		got := r.Recent(0)
		if len(got) != 2 {
			t.Fatalf("got %d commands, want 2", len(got))
		}
		if got[0].Text != "third" || got[1].Text != "second" {
			t.Errorf("Recent = [%s %s], want newest first [third second]", got[0].Text, got[1].Text)
		}
	})

	t.Run("recent_respects_limit", func(t *testing.T) {
		r := NewRing(5, zerolog.Nop())
		for _, text := range []string{"a", "b", "c"} {
			r.Add(NewCommand(Command{Text: text}))
		}
		got := r.Recent(2)
		if len(got) != 2 {
			t.Fatalf("got %d commands, want 2", len(got))
		}
		if got[0].Text != "c" {
			t.Errorf("newest = %q, want c", got[0].Text)
		}
	})

	t.Run("get_by_id", func(t *testing.T) {
		r := NewRing(5, zerolog.Nop())
		cmd := NewCommand(Command{Text: "turn on the lights"})
		r.Add(cmd)

		got, ok := r.Get(cmd.ID)
		if !ok {
			t.Fatal("command not found by ID")
		}
		if got.Text != cmd.Text {
			t.Errorf("Text = %q, want %q", got.Text, cmd.Text)
		}
		if _, ok := r.Get("nonexistent"); ok {
			t.Error("found command for unknown ID")
		}
	})

	t.Run("ids_are_unique", func(t *testing.T) {
		a := NewCommand(Command{Text: "a"})
		b := NewCommand(Command{Text: "b"})
		if a.ID == b.ID {
			t.Errorf("duplicate command IDs: %q", a.ID)
		}
		if a.ID == "" {
			t.Error("empty command ID")
		}
	})

	t.Run("observer_fires_per_add", func(t *testing.T) {
		r := NewRing(5, zerolog.Nop())
		var seen []string
		r.Observe(func(cmd Command) { seen = append(seen, cmd.Text) })

		r.Add(NewCommand(Command{Text: "a"}))
		r.Add(NewCommand(Command{Text: "b"}))

		if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
			t.Errorf("observer saw %v, want [a b]", seen)
		}
	})

	t.Run("panicking_observer_is_isolated", func(t *testing.T) {
		r := NewRing(5, zerolog.Nop())
		var called bool
		r.Observe(func(Command) { panic("boom") })
		r.Observe(func(Command) { called = true })

		r.Add(NewCommand(Command{Text: "a"}))

		if !called {
			t.Error("second observer skipped after first panicked")
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
	})

	t.Run("clear", func(t *testing.T) {
		r := NewRing(5, zerolog.Nop())
		r.Add(NewCommand(Command{Text: "a"}))
		r.Clear()
		if r.Len() != 0 {
			t.Errorf("Len = %d after Clear, want 0", r.Len())
		}
	})
}
