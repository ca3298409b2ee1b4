package config

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/coder/esmon"
)

// ParseSubscriptions turns subscription expressions into an ordered list of
// event types. Each expression may hold several comma separated terms, which
// are applied left to right:
//
//	all      every notify type
//	+all     every auth type
//	open     the notify form of open
//	+open    the auth form of open
//	-open    remove the notify form of open
//	-+open   remove the auth form of open
//
// Removing a type that was not added is an error, as is an unknown kind.
func ParseSubscriptions(exprs []string) ([]esmon.EventType, error) {
	var (
		types []esmon.EventType
		index = map[esmon.EventType]int{}
	)
	add := func(t esmon.EventType) {
		if _, ok := index[t]; ok {
			return
		}
		index[t] = len(types)
		types = append(types, t)
	}
	remove := func(t esmon.EventType) error {
		i, ok := index[t]
		if !ok {
			return xerrors.Errorf("cannot remove %q: it was not added", t.String())
		}
		types = append(types[:i], types[i+1:]...)
		delete(index, t)
		for j := i; j < len(types); j++ {
			index[types[j]] = j
		}
		return nil
	}

	for _, expr := range exprs {
		for _, term := range strings.Split(expr, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}

			switch term {
			case "all":
				for _, t := range esmon.NotifyTypes() {
					add(t)
				}
				continue
			case "+all":
				for _, t := range esmon.AuthTypes() {
					add(t)
				}
				continue
			}

			name := strings.TrimLeft(term, "+-")
			prefix := term[:len(term)-len(name)]
			action := esmon.ActionNotify
			if strings.Contains(prefix, "+") {
				action = esmon.ActionAuth
			}
			t, err := esmon.EventTypeFor(esmon.Kind(name), action)
			if err != nil {
				return nil, xerrors.Errorf("parse %q: %w", term, err)
			}
			if strings.Contains(prefix, "-") {
				err = remove(t)
				if err != nil {
					return nil, err
				}
				continue
			}
			add(t)
		}
	}
	return types, nil
}

// ListEvents returns one line per supported kind. Kinds with an auth form are
// marked with "[+]".
func ListEvents() []string {
	kinds := esmon.Kinds()
	lines := make([]string, 0, len(kinds))
	for _, k := range kinds {
		line := string(k)
		if k.HasAuth() {
			line += " [+]"
		}
		lines = append(lines, line)
	}
	return lines
}
