package packagemanager

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sephiroth74/go_permission_controller/types"
)

// Fixture describes the state of a device as a YAML document
type Fixture struct {
	// Platform registers the platform permissions before the fixture ones
	Platform    bool                `yaml:"platform"`
	Permissions []FixturePermission `yaml:"permissions"`
	Packages    []FixturePackage    `yaml:"packages"`
}

type FixturePermission struct {
	Name         string `yaml:"name"`
	Group        string `yaml:"group"`
	Background   string `yaml:"background"`
	Dangerous    bool   `yaml:"dangerous"`
	NotSensitive bool   `yaml:"not_user_sensitive"`
	AppOp        string `yaml:"app_op"`
	AppOpDefault string `yaml:"app_op_default"`
}

type FixturePackage struct {
	Name               string             `yaml:"name"`
	Label              string             `yaml:"label"`
	User               int                `yaml:"user"`
	TargetSdk          int                `yaml:"target_sdk"`
	System             bool               `yaml:"system"`
	UpdatedSystem      bool               `yaml:"updated_system"`
	FactoryPermissions []string           `yaml:"factory_permissions"`
	Disabled           bool               `yaml:"disabled"`
	FirstInstall       string             `yaml:"first_install"`
	Permissions        []string           `yaml:"permissions"`
	Granted            []string           `yaml:"granted"`
	Components         []FixtureComponent `yaml:"components"`
}

type FixtureComponent struct {
	Kind                string               `yaml:"kind"`
	Name                string               `yaml:"name"`
	Permission          string               `yaml:"permission"`
	HandleAllWebDataURI bool                 `yaml:"handle_all_web_data_uri"`
	MetaData            map[string]string    `yaml:"meta_data"`
	Filters             []types.IntentFilter `yaml:"filters"`
}

// LoadFixtureFile reads a YAML fixture from path
func LoadFixtureFile(path string) (*MemoryPackageManager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("fixture %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return LoadFixture(data)
}

// LoadFixture builds a MemoryPackageManager from a YAML fixture
func LoadFixture(data []byte) (*MemoryPackageManager, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}

	m := NewMemoryPackageManager()
	if fixture.Platform {
		RegisterPlatformPermissions(m)
	}

	for _, p := range fixture.Permissions {
		protection := types.ProtectionNormal
		if p.Dangerous {
			protection = types.ProtectionDangerous
		}
		if p.Group != "" {
			m.AddPermissionGroup(p.Group)
		}
		m.AddPermission(types.PermissionInfo{
			Name:                 p.Name,
			Group:                p.Group,
			BackgroundPermission: p.Background,
			Protection:           protection,
			UserSensitive:        !p.NotSensitive,
		})
		if p.AppOp != "" {
			mode := types.ModeAllowed
			if p.AppOpDefault != "" {
				parsed, err := types.ParseAppOpMode(p.AppOpDefault)
				if err != nil {
					return nil, fmt.Errorf("permission %s: %w", p.Name, err)
				}
				mode = parsed
			}
			m.AddAppOp(p.AppOp, p.Name, mode)
		}
	}

	for _, p := range fixture.Packages {
		user := types.UserHandle(p.User)
		var firstInstall time.Time
		if p.FirstInstall != "" {
			parsed, err := time.Parse(time.RFC3339, p.FirstInstall)
			if err != nil {
				return nil, fmt.Errorf("package %s: invalid first_install: %w", p.Name, err)
			}
			firstInstall = parsed
		}
		info := types.PackageInfo{
			PackageName:          p.Name,
			Label:                p.Label,
			TargetSdkVersion:     p.TargetSdk,
			RequestedPermissions: p.Permissions,
			System:               p.System || p.UpdatedSystem,
			UpdatedSystemApp:     p.UpdatedSystem,
			Enabled:              !p.Disabled,
			FirstInstallTime:     firstInstall,
		}
		m.InstallPackage(info, user)
		if p.UpdatedSystem {
			factory := info
			factory.UpdatedSystemApp = false
			factory.RequestedPermissions = p.FactoryPermissions
			m.SetFactoryPackage(factory)
		}
		for _, permission := range p.Granted {
			m.Grant(p.Name, permission, user)
		}
		for _, c := range p.Components {
			kind, err := ParseComponentKind(c.Kind)
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", p.Name, err)
			}
			m.AddComponent(user, kind, types.ComponentInfo{
				PackageName: p.Name,
				Name:        c.Name,
				Permission:  c.Permission,
				MetaData:    c.MetaData,
			}, c.HandleAllWebDataURI, c.Filters...)
		}
	}
	return m, nil
}
