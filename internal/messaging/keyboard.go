package messaging

import (
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// renderNumbered appends the keyboard options as a numbered list, for transports without
// native reply keyboards.
func renderNumbered(reply models.Reply) string {
	opts := reply.Options()
	if len(opts) == 0 {
		return reply.Text
	}
	var b strings.Builder
	b.WriteString(reply.Text)
	b.WriteString("\n")
	for i, opt := range opts {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt)
	}
	return b.String()
}

// optionMemory remembers the last numbered keyboard sent to each recipient so a reply of "2"
// can be resolved to the second label.
type optionMemory struct {
	mu      sync.Mutex
	options map[string][]string
}

func newOptionMemory() *optionMemory {
	return &optionMemory{options: make(map[string][]string)}
}

// remember records the keyboard of an outgoing reply. Replies without a keyboard leave the
// previous options in place unless they explicitly remove the keyboard.
func (m *optionMemory) remember(to string, reply models.Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case reply.HasKeyboard():
		m.options[to] = reply.Options()
	case reply.RemoveKeyboard:
		delete(m.options, to)
	}
}

// resolve maps a numeric answer onto the remembered label. Anything else passes through.
func (m *optionMemory) resolve(from, text string) string {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return text
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	opts := m.options[from]
	if n < 1 || n > len(opts) {
		return text
	}
	return opts[n-1]
}
