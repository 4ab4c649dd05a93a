package preflight

import (
	"io"
	"os/exec"

	"github.com/peterje/rootrepl/internal/models"
	"github.com/peterje/rootrepl/internal/style"
)

// CheckAll looks up the REPL executable and, when the tmux backend is in
// use, tmux itself. ok is false if any required tool is missing.
func CheckAll(executable string, needTmux bool) (tools []models.ToolStatus, ok bool) {
	tools = []models.ToolStatus{checkTool(executable)}
	if needTmux {
		tools = append(tools, checkTool("tmux"))
	}
	ok = true
	for _, t := range tools {
		ok = ok && t.Installed
	}
	return tools, ok
}

// Report prints one line per tool.
func Report(w io.Writer, tools []models.ToolStatus) {
	for _, t := range tools {
		if t.Installed {
			style.Check(w, "%s found (%s)", t.Name, t.Path)
		} else {
			style.Warn(w, "%s is not installed or not on PATH", t.Name)
		}
	}
}

func checkTool(name string) models.ToolStatus {
	path, err := exec.LookPath(name)
	if err != nil {
		return models.ToolStatus{Name: name, Installed: false}
	}
	return models.ToolStatus{Name: name, Installed: true, Path: path}
}
