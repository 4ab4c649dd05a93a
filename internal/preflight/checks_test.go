package preflight

import (
	"bytes"
	"strings"
	"testing"

	"github.com/peterje/rootrepl/internal/models"
)

func TestCheckAll(t *testing.T) {
	tools, ok := CheckAll("sh", false)
	if !ok || len(tools) != 1 || !tools[0].Installed || tools[0].Path == "" {
		t.Errorf("CheckAll(sh) = %+v, %v", tools, ok)
	}

	tools, ok = CheckAll("definitely-not-a-real-binary-xyz", false)
	if ok || tools[0].Installed {
		t.Errorf("missing executable reported installed: %+v", tools)
	}
}

func TestCheckAll_Tmux(t *testing.T) {
	tools, _ := CheckAll("sh", true)
	if len(tools) != 2 || tools[1].Name != "tmux" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	Report(&buf, []models.ToolStatus{
		{Name: "root", Installed: true, Path: "/usr/bin/root"},
		{Name: "tmux"},
	})
	out := buf.String()
	if !strings.Contains(out, "root found (/usr/bin/root)") {
		t.Errorf("missing found line: %q", out)
	}
	if !strings.Contains(out, "tmux is not installed") {
		t.Errorf("missing warning line: %q", out)
	}
}
