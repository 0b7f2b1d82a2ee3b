package locationaccess

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/types"
)

// notifiedFile stores the packages already notified about, one "<package> <user serial>"
// line per package. Without a path the set only lives in memory.
type notifiedFile struct {
	path   string
	users  UserManager
	memory map[types.UserPackage]bool
}

func newNotifiedFile(path string, users UserManager) *notifiedFile {
	return &notifiedFile{path: path, users: users, memory: make(map[types.UserPackage]bool)}
}

func (n *notifiedFile) load() map[types.UserPackage]bool {
	result := make(map[types.UserPackage]bool)
	if n.path == "" {
		for p := range n.memory {
			result[p] = true
		}
		return result
	}

	data := prefs.ReadStoredFile(n.path)
	if data == nil {
		return result
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			log.Warn().Msgf("skipping malformed line %q", line)
			continue
		}
		serial, err := strconv.Atoi(fields[1])
		if err != nil {
			log.Warn().Msgf("skipping line with invalid serial %q", line)
			continue
		}
		user, ok := n.users.UserForSerial(serial)
		if !ok {
			log.Info().Msgf("skipping %s of unknown user serial %d", fields[0], serial)
			continue
		}
		result[types.NewUserPackage(fields[0], user)] = true
	}
	return result
}

func (n *notifiedFile) store(packages map[types.UserPackage]bool) {
	if n.path == "" {
		n.memory = make(map[types.UserPackage]bool, len(packages))
		for p := range packages {
			n.memory[p] = true
		}
		return
	}

	var lines []string
	for p := range packages {
		serial, ok := n.users.SerialNumber(p.User)
		if !ok {
			log.Info().Msgf("dropping %s of removed user %d", p.PackageName, int(p.User))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %d\n", p.PackageName, serial))
	}
	sort.Strings(lines)

	if err := prefs.WriteFileAtomic(n.path, []byte(strings.Join(lines, ""))); err != nil {
		log.Error().Err(err).Msgf("failed to write %s", n.path)
	}
}
