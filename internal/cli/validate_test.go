package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifestFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func runValidate(t *testing.T, path string) (string, error) {
	t.Helper()
	cmd := NewValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateAcceptsSampleManifest(t *testing.T) {
	path := writeManifestFile(t, demoExpedition)
	out, err := runValidate(t, path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "demo-expedition: ok") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestValidateReportsFatalDefects(t *testing.T) {
	path := writeManifestFile(t, `{
		"schemaVersion": "1.0.0",
		"gameId": "broken",
		"startScene": "missing",
		"scenes": [
			{"sceneId": "intro", "type": "introduction", "navigation": {"next": "nowhere"}}
		]
	}`)
	out, err := runValidate(t, path)
	if err == nil {
		t.Fatalf("expected validation failure, output: %s", out)
	}
	if !strings.Contains(out, "dangling_start_scene") {
		t.Fatalf("expected dangling start scene finding in output: %s", out)
	}
}

func TestValidateUnreadableFile(t *testing.T) {
	if _, err := runValidate(t, filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
