package models

import "time"

// Session is a live REPL session as reported by a backend.
type Session struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Status  string `json:"status"`
	PID     *int   `json:"pid,omitempty"`
}

// Evaluation is one dispatched command and the output scraped for it.
type Evaluation struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Backend   string    `json:"backend"`
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ToolStatus struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

type HealthResponse struct {
	Status   string       `json:"status"`
	Backend  string       `json:"backend"`
	Tools    []ToolStatus `json:"tools"`
	Sessions int          `json:"sessions"`
}
