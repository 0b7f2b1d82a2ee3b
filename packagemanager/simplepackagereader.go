package packagemanager

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/types"
)

var log = logging.GetLogger("packagemanager")

var (
	packagesSectionRegexp     = regexp.MustCompile("(?m)^Packages:\n")
	emptyLineRegexp           = regexp.MustCompile("(?m)^$")
	runtimeSectionRegexp      = regexp.MustCompile(`(?m)^\s{3,}runtime permissions:\s*\n`)
	runtimePermissionRegexp   = regexp.MustCompile(`(?m)^\s*([^:\s]+):\s+granted=(false|true)(?:,\s+flags=\[\s*([^\]]*)\])?$`)
	installSectionRegexp      = regexp.MustCompile(`(?m)^\s{3,}install permissions:\n((\s{4,}[^:]+:\s+granted=(true|false)\n)+)`)
	installPermissionRegexp   = regexp.MustCompile(`(?m)^\s{4,}([^:\s]+):\s+granted=(true|false)$`)
	requestedSectionRegexp    = regexp.MustCompile(`(?m)^\s{3,}requested permissions:\n((?:[ \t]{4,}[\w\.]+(?::.*)?(?:\n|$))+)`)
	requestedPermissionRegexp = regexp.MustCompile(`(?m)^\s{4,}([\w\.]+)`)
)

// SimplePackageReader extracts package state from the output of "dumpsys package <name>"
type SimplePackageReader struct {
	Data string
}

// NewPackageReader returns a reader for the "Packages:" section of data, nil if the
// section is missing
func NewPackageReader(data string) *SimplePackageReader {
	m := packagesSectionRegexp.FindStringIndex(data)
	if m == nil {
		return nil
	}
	data = data[m[0]:]
	// the section ends at the first empty line
	if m2 := emptyLineRegexp.FindStringIndex(data); m2 != nil {
		data = data[:m2[1]]
	}
	return &SimplePackageReader{Data: data}
}

func (s SimplePackageReader) PackageName() string {
	result, _ := s.parse(`(?m)^\s+Package\s+\[([^\]]+)\]\s+\([^\\)]+\):`)
	return result
}

func (s SimplePackageReader) VersionName() string {
	result, _ := s.getItem("versionName")
	return result
}

func (s SimplePackageReader) TargetSdk() int {
	result, err := s.parse(`(?m)^\s{3,}versionCode=\d+\s+minSdk=\d+\s+targetSdk=(\d+)`)
	if err != nil {
		return 0
	}
	value, _ := strconv.Atoi(result)
	return value
}

func (s SimplePackageReader) Flags() []string {
	result, _ := s.parse(`(?m)^\s{3,}flags=\[\s*([^\]]+)\s*\]$`)
	return regexp.MustCompile(`\s+`).Split(strings.TrimSpace(result), -1)
}

func (s SimplePackageReader) IsSystem() bool {
	for _, flag := range s.Flags() {
		if flag == "SYSTEM" {
			return true
		}
	}
	return false
}

func (s SimplePackageReader) InstallPermissions() []types.PackagePermission {
	var result []types.PackagePermission
	m := installSectionRegexp.FindStringSubmatch(s.Data)
	if m == nil {
		return result
	}
	for _, v := range installPermissionRegexp.FindAllStringSubmatch(m[1], -1) {
		granted, _ := strconv.ParseBool(v[2])
		result = append(result, types.PackagePermission{
			Permission: types.Permission{Name: v[1]},
			Granted:    granted,
		})
	}
	return result
}

func (s SimplePackageReader) RequestedPermissions() []types.RequestedPermission {
	var result []types.RequestedPermission
	m := requestedSectionRegexp.FindStringSubmatch(s.Data)
	if m == nil {
		return result
	}
	for _, v := range requestedPermissionRegexp.FindAllStringSubmatch(m[1], -1) {
		result = append(result, types.RequestedPermission{Permission: types.Permission{Name: v[1]}})
	}
	return result
}

// RuntimePermissions returns the runtime permissions of the first user listed in the dump
func (s SimplePackageReader) RuntimePermissions() []types.PackagePermission {
	var result []types.PackagePermission
	m := runtimeSectionRegexp.FindStringIndex(s.Data)
	if m == nil {
		return result
	}
	data := s.Data[m[1]:]
	if end := emptyLineRegexp.FindStringIndex(data); end != nil {
		data = data[:end[1]]
	}

	for _, v := range runtimePermissionRegexp.FindAllStringSubmatch(data, -1) {
		granted, _ := strconv.ParseBool(v[2])
		flags, err := types.ParsePermissionFlags(v[3])
		if err != nil {
			log.Debug().Msgf("%s: %s", v[1], err.Error())
		}
		result = append(result, types.PackagePermission{
			Permission: types.Permission{Name: v[1]},
			Granted:    granted,
			Flags:      flags,
		})
	}
	return result
}

func (s SimplePackageReader) getItem(name string) (string, error) {
	return s.parse(fmt.Sprintf(`(?m)^\s{3,}%s=(.*)$`, name))
}

func (s SimplePackageReader) parse(match string) (string, error) {
	m := regexp.MustCompile(match).FindStringSubmatch(s.Data)
	if len(m) == 2 {
		return m[1], nil
	}
	return "", errors.New(fmt.Sprintf("failed to find %s", match))
}

// ImportDumpsys installs the package described by a "dumpsys package" output, or
// updates it when already installed, and copies its runtime grant state and flags
func ImportDumpsys(m *MemoryPackageManager, data string, user types.UserHandle) (string, error) {
	reader := NewPackageReader(data)
	if reader == nil {
		return "", errors.New("no packages section found")
	}
	packageName := reader.PackageName()
	if packageName == "" {
		return "", errors.New("package name not found")
	}

	var requested []string
	for _, p := range reader.RequestedPermissions() {
		requested = append(requested, p.Name)
	}

	info, err := m.PackageInfo(packageName, user)
	if err != nil {
		info = &types.PackageInfo{PackageName: packageName, Enabled: true}
	}
	info.RequestedPermissions = requested
	if target := reader.TargetSdk(); target > 0 {
		info.TargetSdkVersion = target
	}
	info.System = info.System || reader.IsSystem()
	m.InstallPackage(*info, user)

	for _, p := range reader.RuntimePermissions() {
		if p.Granted {
			m.Grant(packageName, p.Name, user)
		} else {
			m.Revoke(packageName, p.Name, user)
		}
		m.SetFlags(packageName, p.Name, p.Flags, ^types.FlagNone, user)
	}
	log.Info().Msgf("imported %s with %d requested permissions", packageName, len(requested))
	return packageName, nil
}
