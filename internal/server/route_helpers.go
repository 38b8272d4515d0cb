package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/ternarybob/koscout/internal/handlers"
)

// methods dispatches a knockout API path by request method. Anything else
// gets a JSON 405 with the Allow header listing what the path accepts.
type methods map[string]http.HandlerFunc

func (m methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h(w, r)
		return
	}
	w.Header().Set("Allow", m.allow())
	handlers.WriteError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

func (m methods) allow() string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
