package auth

import (
	"encoding/json"
	"os"
)

type savedState struct {
	Identity string `json:"identity"`
}

// SaveState persists the authenticated identity so the next process
// start can resume the session. An empty identity removes the file.
func SaveState(path, identity string) {
	if path == "" {
		return
	}
	if identity == "" {
		os.Remove(path)
		return
	}
	if raw, err := json.Marshal(&savedState{Identity: identity}); err == nil {
		os.WriteFile(path, raw, 0600)
	}
}

// LoadState reads a previously saved identity, "" if there is none.
func LoadState(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var state savedState
	if json.Unmarshal(raw, &state) != nil {
		return ""
	}
	return state.Identity
}
