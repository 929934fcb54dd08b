package password

import "testing"

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TRACKER_ARGON2_MEMORY_KIB", "16384")
	t.Setenv("TRACKER_ARGON2_ITERATIONS", "2")
	t.Setenv("TRACKER_ARGON2_PARALLELISM", "2")
	t.Setenv("TRACKER_PASSWORD_MAX_LEN", "128")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Params.MemoryKiB != 16384 || cfg.Params.Iterations != 2 || cfg.Params.Parallelism != 2 {
		t.Fatalf("unexpected params: %+v", cfg.Params)
	}
	if cfg.MaxLength != 128 {
		t.Fatalf("MaxLength=%d want=128", cfg.MaxLength)
	}
}

func TestFromEnv_Rejects(t *testing.T) {
	cases := map[string]string{
		"TRACKER_ARGON2_MEMORY_KIB":  "1",
		"TRACKER_ARGON2_ITERATIONS":  "abc",
		"TRACKER_ARGON2_PARALLELISM": "0",
		"TRACKER_PASSWORD_MAX_LEN":   "-5",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error for %s=%s", k, v)
			}
		})
	}
}
