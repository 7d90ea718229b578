package schema

import (
	"fmt"
	"strings"
)

// Problem is a setting value that does not match the schema.
type Problem struct {
	// Path locates the value, e.g. "patterns[2].name".
	Path    string
	Message string
}

func (p Problem) Error() string {
	return p.Path + ": " + p.Message
}

// Problems is the list of problems found in one settings document.
type Problems []Problem

func (ps Problems) Error() string {
	if len(ps) == 1 {
		return ps[0].Error()
	}
	msgs := make([]string, len(ps))
	for i, p := range ps {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("%d invalid settings: %s", len(ps), strings.Join(msgs, "; "))
}

// Err returns nil when there are no problems.
func (ps Problems) Err() error {
	if len(ps) == 0 {
		return nil
	}
	return ps
}

// Under returns the problems at path or below it.
func (ps Problems) Under(path string) Problems {
	var out Problems
	for _, p := range ps {
		if p.Path == path || strings.HasPrefix(p.Path, path+".") || strings.HasPrefix(p.Path, path+"[") {
			out = append(out, p)
		}
	}
	return out
}
