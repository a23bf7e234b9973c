package settings

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestStore(t *testing.T) {
	t.Run("defaults_seed_missing_keys", func(t *testing.T) {
		s := NewStore(t.TempDir(), map[string]any{KeyCoreURL: "http://core:8000"}, zerolog.Nop())
		if got := s.GetString(KeyCoreURL, ""); got != "http://core:8000" {
			t.Errorf("GetString = %q, want default seeded", got)
		}
	})

	t.Run("concurrent_writers_and_readers", func(t *testing.T) {
		s := NewStore(t.TempDir(), nil, zerolog.Nop())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func(n int) {
				defer wg.Done()
				s.Set(KeyCoreTimeoutS, n)
			}(i)
			go func() {
				defer wg.Done()
				s.Get(KeyCoreTimeoutS)
				s.All()
			}()
		}
		wg.Wait()

		if v := s.Get(KeyCoreTimeoutS); v == nil {
			t.Error("value lost after concurrent writes")
		}
	})

	t.Run("set_persists_across_reload", func(t *testing.T) {
		dir := t.TempDir()
		s := NewStore(dir, nil, zerolog.Nop())
		if err := s.Set(KeyCoreURL, "http://core-b:8000"); err != nil {
			t.Fatalf("Set: %v", err)
		}

		s2 := NewStore(dir, map[string]any{KeyCoreURL: "http://default:8000"}, zerolog.Nop())
		if got := s2.GetString(KeyCoreURL, ""); got != "http://core-b:8000" {
			t.Errorf("GetString = %q, want persisted value to beat default", got)
		}
	})

	t.Run("update_merges", func(t *testing.T) {
		s := NewStore(t.TempDir(), nil, zerolog.Nop())
		err := s.Update(map[string]any{KeyCoreURL: "http://x:1", KeyCoreTimeoutS: 10})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		all := s.All()
		if all[KeyCoreURL] != "http://x:1" || all[KeyCoreTimeoutS] != 10 {
			t.Errorf("All = %v", all)
		}
	})

	t.Run("corrupt_file_falls_back_to_defaults", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("{{{"), 0o644); err != nil {
			t.Fatal(err)
		}
		s := NewStore(dir, map[string]any{KeyCoreURL: "http://default:8000"}, zerolog.Nop())
		if got := s.GetString(KeyCoreURL, ""); got != "http://default:8000" {
			t.Errorf("GetString = %q, want default after corrupt load", got)
		}
	})

	t.Run("get_string_fallback", func(t *testing.T) {
		s := NewStore(t.TempDir(), map[string]any{"n": 42}, zerolog.Nop())
		if got := s.GetString("missing", "fb"); got != "fb" {
			t.Errorf("GetString missing = %q, want fb", got)
		}
		if got := s.GetString("n", "fb"); got != "fb" {
			t.Errorf("GetString non-string = %q, want fb", got)
		}
	})
}
