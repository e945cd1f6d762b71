// Package tasks tracks the consultation checklist a session works through.
// Completion is monotonic: a task never transitions back to pending.
package tasks

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/chadiek/voice-consult/internal/protocol"
)

// markerRe matches completion markers the language model embeds in its
// replies, e.g. [TASK_2_DONE].
var markerRe = regexp.MustCompile(`\[TASK_(\d+)_DONE\]`)

// Tracker holds the task list for one session.
type Tracker struct {
	mu    sync.Mutex
	tasks []protocol.TaskSpec
	index map[int]int // task id -> slice position
}

// New builds a tracker from the client-supplied task list. Completed flags in
// the input are preserved so a reconnecting client can resume mid-consult.
func New(specs []protocol.TaskSpec) *Tracker {
	t := &Tracker{index: map[int]int{}}
	for _, s := range specs {
		if _, dup := t.index[s.ID]; dup {
			continue
		}
		t.index[s.ID] = len(t.tasks)
		t.tasks = append(t.tasks, s)
	}
	return t
}

// MarkComplete marks a task done. It returns true only on the pending ->
// completed transition; repeated calls and unknown ids return false, so the
// caller emits at most one task_update per task.
func (t *Tracker) MarkComplete(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.index[id]
	if !ok || t.tasks[pos].Completed {
		return false
	}
	t.tasks[pos].Completed = true
	return true
}

// Snapshot returns a copy of the current task list.
func (t *Tracker) Snapshot() []protocol.TaskSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.TaskSpec, len(t.tasks))
	copy(out, t.tasks)
	return out
}

// AllDone reports whether every task is completed. Empty lists count as done.
func (t *Tracker) AllDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.tasks {
		if !task.Completed {
			return false
		}
	}
	return true
}

// ExtractMarkers strips every complete task marker from text and returns the
// cleaned text plus the ids found, in order of appearance.
func ExtractMarkers(text string) (string, []int) {
	var ids []int
	clean := markerRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		id, err := strconv.Atoi(sub[1])
		if err == nil {
			ids = append(ids, id)
		}
		return ""
	})
	return clean, ids
}

// StripPartialMarker removes an incomplete marker dangling at the end of a
// streamed text fragment, so partial_response frames never show marker
// fragments like "[TASK_1_D" to the user. Complete markers are removed too.
func StripPartialMarker(text string) string {
	clean, _ := ExtractMarkers(text)
	i := strings.LastIndexByte(clean, '[')
	if i < 0 {
		return clean
	}
	if isMarkerPrefix(clean[i+1:]) {
		return clean[:i]
	}
	return clean
}

// isMarkerPrefix reports whether s is a proper prefix of "TASK_<digits>_DONE]".
func isMarkerPrefix(s string) bool {
	const head = "TASK_"
	n := len(s)
	if n == 0 {
		return true
	}
	for i := 0; i < n && i < len(head); i++ {
		if s[i] != head[i] {
			return false
		}
	}
	if n <= len(head) {
		return true
	}
	rest := s[len(head):]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return false
	}
	rest = rest[j:]
	const tail = "_DONE]"
	if len(rest) >= len(tail) {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] != tail[i] {
			return false
		}
	}
	return true
}
