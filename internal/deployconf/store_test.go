package deployconf

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Read(dir)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Read on empty dir = %v, want ErrNotFound", err)
	}
}

func TestReadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, Path(dir), "Deploy: [unclosed")
	_, err := Read(dir)
	if !errors.Is(err, ErrParse) {
		t.Errorf("Read malformed = %v, want ErrParse", err)
	}
}

func TestWriteRejectsInvalidYAMLAndKeepsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, Path(dir), "Deploy:\n  Webui: true\n")

	err := Write(dir, []byte(":\n  - not: [valid"))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Write invalid = %v, want ErrInvalid", err)
	}

	data, err := os.ReadFile(Path(dir))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Deploy:\n  Webui: true\n" {
		t.Errorf("existing file was modified: %q", data)
	}
}

func TestSSHUserRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, Path(dir), "Deploy:\n  Git:\n    Repository: upstream\n")

	user, err := SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		t.Errorf("SSHUser on config without identity = %q, want empty", user)
	}

	if err := SetSSHUser(dir, "alas123456abcd"); err != nil {
		t.Fatal(err)
	}

	user, err = SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	if user != "alas123456abcd" {
		t.Errorf("SSHUser = %q, want alas123456abcd", user)
	}

	// Sibling sections must survive the mutation.
	doc, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	deploy := doc["Deploy"].(map[string]interface{})
	if _, ok := deploy["Git"]; !ok {
		t.Error("SetSSHUser dropped the Deploy.Git section")
	}
}

func TestEnsureSeededFromTemplate(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(t.TempDir(), "deploy.yaml")
	writeFile(t, template, "Deploy:\n  RemoteAccess:\n    SSHUser: null\n")

	if err := EnsureSeeded(dir, template, "alas"); err != nil {
		t.Fatal(err)
	}

	user, err := SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	pattern := regexp.MustCompile(`^alas\d{6}[a-z0-9]{4}$`)
	if !pattern.MatchString(user) {
		t.Errorf("seeded SSHUser = %q, want match of %v", user, pattern)
	}
}

func TestEnsureSeededKeepsExistingIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, Path(dir), "Deploy:\n  RemoteAccess:\n    SSHUser: keepme\n")

	if err := EnsureSeeded(dir, "/nonexistent/deploy.yaml", "alas"); err != nil {
		t.Fatal(err)
	}

	user, err := SSHUser(dir)
	if err != nil {
		t.Fatal(err)
	}
	if user != "keepme" {
		t.Errorf("EnsureSeeded overwrote existing identity: %q", user)
	}
}

func TestEnsureSeededToleratesMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureSeeded(dir, "/nonexistent/deploy.yaml", "alas"); err != nil {
		t.Errorf("EnsureSeeded without template = %v, want nil", err)
	}
	if Exists(dir) {
		t.Error("EnsureSeeded created a descriptor without a template")
	}
}

func TestWaitForConfigTimesOut(t *testing.T) {
	dir := t.TempDir()
	err := WaitForConfig(dir, 3, time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitForConfig = %v, want ErrTimeout", err)
	}
}

func TestWaitForConfigReturnsOncePresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, Path(dir), "Deploy: {}\n")
	if err := WaitForConfig(dir, 1, time.Millisecond); err != nil {
		t.Errorf("WaitForConfig with file present = %v, want nil", err)
	}
}

func TestGenerateSSHUserPattern(t *testing.T) {
	pattern := regexp.MustCompile(`^web\d{6}[a-z0-9]{4}$`)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		user := GenerateSSHUser("web")
		if !pattern.MatchString(user) {
			t.Fatalf("GenerateSSHUser = %q, want match of %v", user, pattern)
		}
		seen[user] = true
	}
	if len(seen) < 2 {
		t.Error("GenerateSSHUser produced no variation across 20 calls")
	}
}
