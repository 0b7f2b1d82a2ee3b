// rolectl inspects role definitions against a device fixture.
//
//	rolectl validate   [--roles FILE] [--fixture FILE]
//	rolectl qualifying --fixture FILE [--role NAME] [--dumpsys FILE]...
//	rolectl defaults   --fixture FILE
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	streams "github.com/sephiroth74/go_streams"
	"github.com/spf13/pflag"

	permissioncontroller "github.com/sephiroth74/go_permission_controller"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/role"
	"github.com/sephiroth74/go_permission_controller/types"
)

var errUsage = errors.New("usage: rolectl validate|qualifying|defaults [flags]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config  string
	roles   string
	fixture string
	dumpsys []string
	role    string
	user    int
	strict  bool
	verbose bool
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	command := args[0]

	var opts options
	flagSet := pflag.NewFlagSet("rolectl "+command, pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.config, "config", "", "configuration file")
	flagSet.StringVar(&opts.roles, "roles", "", "roles XML file, the built-in definitions when empty")
	flagSet.StringVar(&opts.fixture, "fixture", "", "YAML device fixture")
	flagSet.StringArrayVar(&opts.dumpsys, "dumpsys", nil, "\"dumpsys package\" output to import into the fixture")
	flagSet.StringVar(&opts.role, "role", "", "only this role")
	flagSet.IntVarP(&opts.user, "user", "u", int(types.UserSystem), "user id")
	flagSet.BoolVar(&opts.strict, "strict", false, "fail on malformed role definitions")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(stdout, "%s\n%s", errUsage.Error(), flagSet.FlagUsages())
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if opts.verbose {
		logging.SetLevel(zerolog.DebugLevel)
	} else {
		logging.SetLevel(zerolog.WarnLevel)
	}

	switch command {
	case "validate":
		return validate(opts, stdout)
	case "qualifying":
		return qualifying(opts, stdout)
	case "defaults":
		return defaults(opts, stdout)
	}
	return fmt.Errorf("unknown command %q: %w", command, errUsage)
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.LoadOptional(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.roles != "" {
		cfg.RolesFile = opts.roles
	}
	cfg.Strict = cfg.Strict || opts.strict
	return cfg, nil
}

// loadDevice builds the package manager from the fixture, or only the platform
// permissions when there is none
func loadDevice(opts options, required bool) (*packagemanager.MemoryPackageManager, error) {
	var pm *packagemanager.MemoryPackageManager
	if opts.fixture == "" {
		if required {
			return nil, errors.New("--fixture is required")
		}
		pm = packagemanager.NewMemoryPackageManager()
		packagemanager.RegisterPlatformPermissions(pm)
	} else {
		var err error
		if pm, err = packagemanager.LoadFixtureFile(opts.fixture); err != nil {
			return nil, err
		}
	}

	for _, path := range opts.dumpsys {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if _, err := packagemanager.ImportDumpsys(pm, string(data), types.UserHandle(opts.user)); err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", path, err)
		}
	}
	return pm, nil
}

func validate(opts options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	pm, err := loadDevice(opts, false)
	if err != nil {
		return err
	}
	registry, err := role.LoadFile(cfg.RolesFile, pm, cfg.Strict)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d roles\n", registry.Len())
	for _, r := range registry.Roles() {
		behavior := "-"
		if r.Behavior != nil {
			behavior = r.Behavior.Name()
		}
		fmt.Fprintf(stdout, "%s\t%s\texclusive=%t\n", r.Name, behavior, r.Exclusive)
	}
	return nil
}

func newController(opts options) (*permissioncontroller.Controller, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	pm, err := loadDevice(opts, true)
	if err != nil {
		return nil, err
	}
	// the fixture is inspected, nothing is persisted
	cfg.DataDir = ""
	return permissioncontroller.NewController(permissioncontroller.Options{
		Config:         cfg,
		User:           types.UserHandle(opts.user),
		PackageManager: pm,
	})
}

func selectedRoles(c *permissioncontroller.Controller, name string) ([]*role.Role, error) {
	if name == "" {
		return c.Env.Roles.Roles(), nil
	}
	r, err := c.Env.Roles.Get(name)
	if err != nil {
		return nil, err
	}
	return []*role.Role{r}, nil
}

func qualifying(opts options, stdout io.Writer) error {
	c, err := newController(opts)
	if err != nil {
		return err
	}
	roles, err := selectedRoles(c, opts.role)
	if err != nil {
		return err
	}
	user := types.UserHandle(opts.user)
	for _, r := range roles {
		packages, err := c.QualifyingPackages(r.Name, user)
		if errors.Is(err, role.ErrNotAvailable) {
			fmt.Fprintf(stdout, "%s\t(not available)\n", r.Name)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%s\n", r.Name, strings.Join(packages, ","))
	}
	return nil
}

func defaults(opts options, stdout io.Writer) error {
	c, err := newController(opts)
	if err != nil {
		return err
	}
	user := types.UserHandle(opts.user)
	c.GrantDefaultRoles(user)

	names := streams.Map(c.Env.Roles.Roles(), func(r *role.Role) string { return r.Name })
	for _, name := range names {
		fmt.Fprintf(stdout, "%s\t%s\n", name, strings.Join(c.RoleHolders(name, user), ","))
	}
	return nil
}
