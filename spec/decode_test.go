package spec

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeStack(t *testing.T) {
	data := []byte(`{
		"name": "agent-app",
		"services": {
			"backend": {
				"image": "registry/backend:1",
				"cpu": 512,
				"memory": 1024,
				"container_port": 8000,
				"secrets": {
					"HF_TOKEN": {"name": "agent-app", "key": "HF_TOKEN"}
				},
				"health": {"path": "/api/health", "expected_codes": [200], "timeout": "10s"},
				"scaling": {
					"min_replicas": 1,
					"max_replicas": 4,
					"metric": "cpu_utilization",
					"target_value": 70,
					"scale_out_cooldown": "1m"
				}
			},
			"frontend": {
				"image": "registry/frontend:1",
				"container_port": 8501,
				"env": {"API_ENDPOINT": "http://edge"}
			}
		},
		"edge": {
			"port": 80,
			"default": "frontend",
			"rules": [
				{"priority": 1, "patterns": ["/api/*"], "service": "backend"}
			]
		}
	}`)

	st, err := DecodeStack(data)
	if err != nil {
		t.Fatal(err)
	}

	if st.Name != "agent-app" {
		t.Errorf("name = %q, want agent-app", st.Name)
	}
	if len(st.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(st.Services))
	}

	backend := st.Services["backend"]
	if backend.Secrets["HF_TOKEN"].Name != "agent-app" {
		t.Errorf("secret ref name = %q", backend.Secrets["HF_TOKEN"].Name)
	}
	if backend.Health.Timeout.Duration != 10*time.Second {
		t.Errorf("health timeout = %v", backend.Health.Timeout.Duration)
	}
	if backend.Scaling.ScaleOutCooldown.Duration != time.Minute {
		t.Errorf("scale-out cooldown = %v", backend.Scaling.ScaleOutCooldown.Duration)
	}

	if st.Edge.Default != "frontend" {
		t.Errorf("edge default = %q", st.Edge.Default)
	}
	if len(st.Edge.Rules) != 1 || st.Edge.Rules[0].Service != "backend" {
		t.Errorf("edge rules = %+v", st.Edge.Rules)
	}
}

func TestDecodeStack_DuplicateServiceName(t *testing.T) {
	data := []byte(`{
		"name": "dup",
		"services": {
			"api": {"image": "a", "container_port": 80},
			"api": {"image": "b", "container_port": 81}
		},
		"edge": {"port": 80, "default": "api"}
	}`)

	_, err := DecodeStack(data)
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !strings.Contains(err.Error(), `duplicate services key: "api"`) {
		t.Errorf("err = %v", err)
	}
}

func TestDecodeStack_DuplicateEnvKey(t *testing.T) {
	data := []byte(`{
		"name": "dup-env",
		"services": {
			"api": {
				"image": "a",
				"container_port": 80,
				"env": {"MODE": "x", "MODE": "y"}
			}
		},
		"edge": {"port": 80, "default": "api"}
	}`)

	_, err := DecodeStack(data)
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !strings.Contains(err.Error(), `service "api"`) || !strings.Contains(err.Error(), `duplicate env key`) {
		t.Errorf("err = %v", err)
	}
}

func TestHealthSpecWithDefaults(t *testing.T) {
	var nilSpec *HealthSpec
	got := nilSpec.WithDefaults()
	if got.Type != "http" || got.Path != "/" || len(got.ExpectedCodes) != 1 || got.ExpectedCodes[0] != 200 {
		t.Errorf("defaults = %+v", got)
	}

	custom := &HealthSpec{Path: "/_stcore/health", ExpectedCodes: []int{200, 204}}
	got = custom.WithDefaults()
	if got.Path != "/_stcore/health" {
		t.Errorf("path = %q", got.Path)
	}
	if len(got.ExpectedCodes) != 2 {
		t.Errorf("expected codes = %v", got.ExpectedCodes)
	}
}

func TestDurationRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{`"5s"`, 5 * time.Second},
		{`"100ms"`, 100 * time.Millisecond},
		{`""`, 0},
	} {
		var d Duration
		if err := d.UnmarshalJSON([]byte(tc.in)); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if d.Duration != tc.want {
			t.Errorf("unmarshal %s = %v, want %v", tc.in, d.Duration, tc.want)
		}
	}

	if _, err := (&Duration{}).MarshalJSON(); err != nil {
		t.Fatal(err)
	}
}
