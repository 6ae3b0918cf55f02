package cli

import (
	"fmt"
	"strings"
)

const (
	JobKind     = "job"
	StatusKind  = "status"
	HistoryKind = "history"
)

var (
	pluralKinds = map[string]string{
		JobKind:     "jobs",
		StatusKind:  "status",
		HistoryKind: "history",
	}
)

// parseAndValidateKindId splits "jobs/<id>" style arguments. Only jobs take
// an id.
func parseAndValidateKindId(arg string) (string, string, error) {
	kind, id, _ := strings.Cut(arg, "/")
	kind = singular(kind)
	if _, ok := pluralKinds[kind]; !ok {
		return "", "", fmt.Errorf("invalid resource kind: %s", kind)
	}
	if id != "" && kind != JobKind {
		return "", "", fmt.Errorf("%s does not take an id", kind)
	}
	return kind, id, nil
}

func singular(kind string) string {
	for singular, plural := range pluralKinds {
		if kind == plural {
			return singular
		}
	}
	return kind
}

func plural(kind string) string {
	return pluralKinds[kind]
}
