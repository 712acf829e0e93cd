package engine

import (
	"bufio"
	"strconv"
	"strings"
)

// recapEntry is one host line from an ansible-playbook PLAY RECAP block.
type recapEntry struct {
	Host        string
	OK          int
	Changed     int
	Unreachable int
	Failed      int
}

func (e recapEntry) succeeded() bool {
	return e.Unreachable == 0 && e.Failed == 0
}

// parseRecap extracts per-host results from ansible-playbook output.
// The recap block looks like:
//
//	PLAY RECAP *********************************************************
//	web1.example.com : ok=4 changed=2 unreachable=0 failed=0 skipped=0 ...
func parseRecap(output string) map[string]recapEntry {
	entries := make(map[string]recapEntry)
	scanner := bufio.NewScanner(strings.NewReader(output))
	inRecap := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "PLAY RECAP") {
			inRecap = true
			continue
		}
		if !inRecap || line == "" {
			continue
		}
		host, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		entry := recapEntry{Host: strings.TrimSpace(host)}
		if entry.Host == "" {
			continue
		}
		matched := false
		for _, field := range strings.Fields(rest) {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			switch key {
			case "ok":
				entry.OK = n
				matched = true
			case "changed":
				entry.Changed = n
				matched = true
			case "unreachable":
				entry.Unreachable = n
				matched = true
			case "failed":
				entry.Failed = n
				matched = true
			}
		}
		if matched {
			entries[entry.Host] = entry
		}
	}
	return entries
}
