package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/matgreaves/gantry/spec"
)

func TestEnv_Resolve(t *testing.T) {
	t.Setenv("AGENT_APP_HF_TOKEN", "hf_abc123")

	v, err := Env{}.Resolve(context.Background(), spec.SecretRef{Name: "agent-app", Key: "hf_token"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "hf_abc123" {
		t.Errorf("value = %q, want %q", v, "hf_abc123")
	}

	_, err = Env{}.Resolve(context.Background(), spec.SecretRef{Name: "agent-app", Key: "missing"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("missing key: err = %v, want NotFoundError", err)
	}
}

func TestEnvName(t *testing.T) {
	tests := []struct {
		ref  spec.SecretRef
		want string
	}{
		{spec.SecretRef{Name: "agent-app", Key: "hf_token"}, "AGENT_APP_HF_TOKEN"},
		{spec.SecretRef{Name: "agent-app", Key: "openai_api_key"}, "AGENT_APP_OPENAI_API_KEY"},
		{spec.SecretRef{Name: "my.secret", Key: "a--b"}, "MY_SECRET_A_B"},
	}
	for _, tt := range tests {
		if got := envName(tt.ref); got != tt.want {
			t.Errorf("envName(%q, %q) = %q, want %q", tt.ref.Name, tt.ref.Key, got, tt.want)
		}
	}
}

func TestDir_Resolve(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "agent-app"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "agent-app", "hf_token"), []byte("hf_abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := Dir{Root: root}
	v, err := d.Resolve(context.Background(), spec.SecretRef{Name: "agent-app", Key: "hf_token"})
	if err != nil {
		t.Fatal(err)
	}
	if v != "hf_abc123" {
		t.Errorf("value = %q (trailing newline should be stripped)", v)
	}

	_, err = d.Resolve(context.Background(), spec.SecretRef{Name: "agent-app", Key: "nope"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("missing file: err = %v, want NotFoundError", err)
	}

	if _, err := d.Resolve(context.Background(), spec.SecretRef{Name: "..", Key: "etc"}); err == nil {
		t.Error("traversal reference accepted")
	}
}

func TestResolveAll(t *testing.T) {
	store := Static{
		"agent-app": {
			"hf_token":       "hf_abc123",
			"openai_api_key": "sk-xyz",
		},
	}
	refs := map[string]spec.SecretRef{
		"HF_TOKEN":       {Name: "agent-app", Key: "hf_token"},
		"OPENAI_API_KEY": {Name: "agent-app", Key: "openai_api_key"},
	}

	got, err := ResolveAll(context.Background(), store, refs)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"HF_TOKEN":       "hf_abc123",
		"OPENAI_API_KEY": "sk-xyz",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveAll mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveAll_AllOrNothing(t *testing.T) {
	store := Static{"agent-app": {"hf_token": "x"}}
	refs := map[string]spec.SecretRef{
		"HF_TOKEN": {Name: "agent-app", Key: "hf_token"},
		"MISSING":  {Name: "agent-app", Key: "absent"},
	}
	if _, err := ResolveAll(context.Background(), store, refs); err == nil {
		t.Fatal("expected error for unresolvable reference")
	}
}
