package role

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/types"
)

// region XML

type xmlUnknown struct {
	XMLName xml.Name
}

type xmlRoles struct {
	XMLName        xml.Name           `xml:"roles"`
	PermissionSets []xmlPermissionSet `xml:"permission-set"`
	Roles          []xmlRole          `xml:"role"`
	Unknown        []xmlUnknown       `xml:",any"`
}

type xmlPermissionSet struct {
	Name        string       `xml:"name,attr"`
	Permissions []xmlNamed   `xml:"permission"`
	Unknown     []xmlUnknown `xml:",any"`
}

type xmlNamed struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
}

type xmlRole struct {
	Name                string                  `xml:"name,attr"`
	Behavior            string                  `xml:"behavior,attr"`
	Label               string                  `xml:"label,attr"`
	Description         string                  `xml:"description,attr"`
	DefaultHolders      string                  `xml:"defaultHolders,attr"`
	Exclusive           string                  `xml:"exclusive,attr"`
	Visible             string                  `xml:"visible,attr"`
	Requestable         string                  `xml:"requestable,attr"`
	ShowNone            string                  `xml:"showNone,attr"`
	SystemOnly          string                  `xml:"systemOnly,attr"`
	RequiredComponents  *xmlComponents          `xml:"required-components"`
	Permissions         *xmlPermissions         `xml:"permissions"`
	AppOps              *xmlAppOps              `xml:"app-ops"`
	PreferredActivities *xmlPreferredActivities `xml:"preferred-activities"`
	Unknown             []xmlUnknown            `xml:",any"`
}

type xmlComponents struct {
	Components []xmlComponent `xml:",any"`
}

type xmlComponent struct {
	XMLName       xml.Name
	Permission    string            `xml:"permission,attr"`
	IntentFilters []xmlIntentFilter `xml:"intent-filter"`
	MetaData      []xmlMetaData     `xml:"meta-data"`
	Unknown       []xmlUnknown      `xml:",any"`
}

type xmlIntentFilter struct {
	Actions    []xmlNamed   `xml:"action"`
	Categories []xmlNamed   `xml:"category"`
	Data       []xmlData    `xml:"data"`
	Unknown    []xmlUnknown `xml:",any"`
}

type xmlData struct {
	Scheme   string `xml:"scheme,attr"`
	MimeType string `xml:"mimeType,attr"`
}

type xmlMetaData struct {
	Name     string `xml:"name,attr"`
	Value    string `xml:"value,attr"`
	Optional string `xml:"optional,attr"`
}

type xmlPermissions struct {
	Items []xmlNamed `xml:",any"`
}

type xmlAppOps struct {
	AppOps  []xmlAppOp   `xml:"app-op"`
	Unknown []xmlUnknown `xml:",any"`
}

type xmlAppOp struct {
	Name                string `xml:"name,attr"`
	Mode                string `xml:"mode,attr"`
	MaxTargetSdkVersion string `xml:"maxTargetSdkVersion,attr"`
}

type xmlPreferredActivities struct {
	PreferredActivities []xmlPreferredActivity `xml:"preferred-activity"`
	Unknown             []xmlUnknown           `xml:",any"`
}

type xmlPreferredActivity struct {
	Activities    []xmlComponent    `xml:"activity"`
	IntentFilters []xmlIntentFilter `xml:"intent-filter"`
	Unknown       []xmlUnknown      `xml:",any"`
}

// endregion XML

// Parser reads role definitions. In strict mode malformed definitions are returned as
// a ParseError, otherwise they are logged and the offending element is skipped.
type Parser struct {
	Strict bool
	// Path is only used in error messages
	Path string
	// PermissionExists validates the permission names, nil skips the validation
	PermissionExists func(name string) bool
	// AppOpPermission returns the permission associated with an app op, nil skips the validation
	AppOpPermission func(op string) string
}

// NewParser returns a parser validating permissions and app ops against the package manager
func NewParser(pm packagemanager.PackageManager, strict bool) *Parser {
	p := &Parser{Strict: strict}
	if pm != nil {
		p.PermissionExists = func(name string) bool {
			_, err := pm.PermissionInfo(name)
			return err == nil
		}
		p.AppOpPermission = pm.PermissionForOp
	}
	return p
}

func (p *Parser) invalid(format string, args ...any) error {
	err := &ParseError{Path: p.Path, Message: fmt.Sprintf(format, args...)}
	if p.Strict {
		return err
	}
	log.Error().Msg(err.Error())
	return nil
}

func (p *Parser) unknownTags(parent string, unknown []xmlUnknown) error {
	for _, u := range unknown {
		if err := p.invalid("unknown tag <%s> in <%s>", u.XMLName.Local, parent); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads a <roles> document
func (p *Parser) Parse(data []byte) (*Registry, error) {
	var doc xmlRoles
	if err := xml.Unmarshal(data, &doc); err != nil {
		if err := p.invalid("malformed roles: %s", err.Error()); err != nil {
			return nil, err
		}
		return NewRegistry(), nil
	}
	if err := p.unknownTags("roles", doc.Unknown); err != nil {
		return nil, err
	}

	permissionSets, err := p.parsePermissionSets(doc.PermissionSets)
	if err != nil {
		return nil, err
	}

	var roles []*Role
	seen := make(map[string]bool)
	for _, x := range doc.Roles {
		role, err := p.parseRole(x, permissionSets)
		if err != nil {
			return nil, err
		}
		if role == nil {
			continue
		}
		if seen[role.Name] {
			if err := p.invalid("duplicate role: %s", role.Name); err != nil {
				return nil, err
			}
			continue
		}
		seen[role.Name] = true
		roles = append(roles, role)
	}
	return NewRegistry(roles...), nil
}

func (p *Parser) parsePermissionSets(sets []xmlPermissionSet) (map[string][]string, error) {
	result := make(map[string][]string)
	for _, x := range sets {
		if x.Name == "" {
			if err := p.invalid("permission-set without name"); err != nil {
				return nil, err
			}
			continue
		}
		if _, ok := result[x.Name]; ok {
			if err := p.invalid("duplicate permission-set: %s", x.Name); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.unknownTags("permission-set", x.Unknown); err != nil {
			return nil, err
		}

		permissionNames := []string{}
		for _, permission := range x.Permissions {
			ok, err := p.checkPermission(permission.Name, permissionNames)
			if err != nil {
				return nil, err
			}
			if ok {
				permissionNames = append(permissionNames, permission.Name)
			}
		}
		result[x.Name] = permissionNames
	}
	return result, nil
}

func (p *Parser) checkPermission(name string, existing []string) (bool, error) {
	if name == "" {
		return false, p.invalid("permission without name")
	}
	for _, e := range existing {
		if e == name {
			return false, p.invalid("duplicate permission: %s", name)
		}
	}
	if p.PermissionExists != nil && !p.PermissionExists(name) {
		return false, p.invalid("unknown permission: %s", name)
	}
	return true, nil
}

func (p *Parser) parseBool(role string, attr string, value string, defaultValue bool) (bool, bool, error) {
	if value == "" {
		return defaultValue, true, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, p.invalid("role %s: invalid %s: %q", role, attr, value)
	}
	return b, true, nil
}

// parseRole returns a nil role when the role is skipped
func (p *Parser) parseRole(x xmlRole, permissionSets map[string][]string) (*Role, error) {
	if x.Name == "" {
		return nil, p.invalid("role without name")
	}
	role := &Role{Name: x.Name, Label: x.Label, Description: x.Description}

	if x.Behavior != "" {
		behavior, ok := NewBehavior(x.Behavior)
		if !ok {
			return nil, p.invalid("role %s: unknown behavior %s", x.Name, x.Behavior)
		}
		role.Behavior = behavior
	}

	if x.Exclusive == "" {
		return nil, p.invalid("role %s: missing exclusive", x.Name)
	}
	var ok bool
	var err error
	attrs := []struct {
		name         string
		value        string
		defaultValue bool
		target       *bool
	}{
		{"exclusive", x.Exclusive, false, &role.Exclusive},
		{"visible", x.Visible, true, &role.Visible},
		{"showNone", x.ShowNone, false, &role.ShowNone},
		{"systemOnly", x.SystemOnly, false, &role.SystemOnly},
	}
	for _, attr := range attrs {
		if *attr.target, ok, err = p.parseBool(x.Name, attr.name, attr.value, attr.defaultValue); !ok {
			return nil, err
		}
	}
	if role.Requestable, ok, err = p.parseBool(x.Name, "requestable", x.Requestable, role.Visible); !ok {
		return nil, err
	}

	for _, holder := range strings.Split(x.DefaultHolders, ";") {
		if holder = strings.TrimSpace(holder); holder != "" {
			role.DefaultHolderPackages = append(role.DefaultHolderPackages, holder)
		}
	}

	if err := p.unknownTags("role", x.Unknown); err != nil {
		return nil, err
	}

	if x.RequiredComponents != nil {
		for _, c := range x.RequiredComponents.Components {
			component, ok, err := p.parseComponent(x.Name, c)
			if err != nil {
				return nil, err
			}
			if ok {
				role.RequiredComponents = append(role.RequiredComponents, component)
			}
		}
	}

	if x.Permissions != nil {
		if role.Permissions, err = p.parsePermissions(x.Name, x.Permissions.Items, permissionSets); err != nil {
			return nil, err
		}
	}

	if x.AppOps != nil {
		if role.AppOps, err = p.parseAppOps(x.Name, x.AppOps); err != nil {
			return nil, err
		}
	}

	if x.PreferredActivities != nil {
		if role.PreferredActivities, err = p.parsePreferredActivities(role, x.PreferredActivities); err != nil {
			return nil, err
		}
	}
	return role, nil
}

func (p *Parser) parseComponent(role string, x xmlComponent) (RequiredComponent, bool, error) {
	kind, err := packagemanager.ParseComponentKind(x.XMLName.Local)
	if err != nil {
		return RequiredComponent{}, false, p.invalid("role %s: unknown tag <%s> in <required-components>", role, x.XMLName.Local)
	}
	if err := p.unknownTags(kind.String(), x.Unknown); err != nil {
		return RequiredComponent{}, false, err
	}
	if len(x.IntentFilters) != 1 {
		return RequiredComponent{}, false, p.invalid("role %s: %s must have exactly one <intent-filter>", role, kind.String())
	}
	filter, ok, err := p.parseIntentFilter(role, x.IntentFilters[0])
	if !ok {
		return RequiredComponent{}, false, err
	}

	component := RequiredComponent{Kind: kind, IntentFilterData: filter, Permission: x.Permission}
	for _, m := range x.MetaData {
		if m.Name == "" {
			if err := p.invalid("role %s: meta-data without name", role); err != nil {
				return RequiredComponent{}, false, err
			}
			continue
		}
		optional := false
		if m.Optional != "" {
			if optional, err = strconv.ParseBool(m.Optional); err != nil {
				if err := p.invalid("role %s: invalid optional on meta-data %s: %q", role, m.Name, m.Optional); err != nil {
					return RequiredComponent{}, false, err
				}
				continue
			}
		}
		component.MetaData = append(component.MetaData, RequiredMetaData{Name: m.Name, Value: m.Value, Optional: optional})
	}
	return component, true, nil
}

func (p *Parser) parseIntentFilter(role string, x xmlIntentFilter) (types.IntentFilterData, bool, error) {
	if err := p.unknownTags("intent-filter", x.Unknown); err != nil {
		return types.IntentFilterData{}, false, err
	}
	if len(x.Actions) != 1 || x.Actions[0].Name == "" {
		return types.IntentFilterData{}, false, p.invalid("role %s: intent-filter must have exactly one action", role)
	}
	if len(x.Data) > 1 {
		return types.IntentFilterData{}, false, p.invalid("role %s: intent-filter must have at most one data", role)
	}

	filter := types.IntentFilterData{Action: x.Actions[0].Name}
	for _, c := range x.Categories {
		filter.Categories = append(filter.Categories, c.Name)
	}
	if len(x.Data) == 1 {
		filter.DataScheme = x.Data[0].Scheme
		filter.DataType = x.Data[0].MimeType
	}
	return filter, true, nil
}

func (p *Parser) parsePermissions(role string, items []xmlNamed, permissionSets map[string][]string) ([]string, error) {
	var result []string
	for _, item := range items {
		switch item.XMLName.Local {
		case "permission-set":
			set, ok := permissionSets[item.Name]
			if !ok {
				if err := p.invalid("role %s: unknown permission-set %s", role, item.Name); err != nil {
					return nil, err
				}
				continue
			}
			for _, permission := range set {
				ok, err := p.checkPermission(permission, result)
				if err != nil {
					return nil, err
				}
				if ok {
					result = append(result, permission)
				}
			}
		case "permission":
			ok, err := p.checkPermission(item.Name, result)
			if err != nil {
				return nil, err
			}
			if ok {
				result = append(result, item.Name)
			}
		default:
			if err := p.invalid("role %s: unknown tag <%s> in <permissions>", role, item.XMLName.Local); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (p *Parser) parseAppOps(role string, x *xmlAppOps) ([]permissions.AppOp, error) {
	if err := p.unknownTags("app-ops", x.Unknown); err != nil {
		return nil, err
	}

	var result []permissions.AppOp
	seen := make(map[string]bool)
	for _, op := range x.AppOps {
		if err := p.checkAppOp(role, op, seen); err != nil {
			if p.Strict {
				return nil, err
			}
			log.Error().Msg(err.Error())
			continue
		}
		mode, _ := types.ParseAppOpMode(op.Mode)
		maxTargetSdk := 0
		if op.MaxTargetSdkVersion != "" {
			maxTargetSdk, _ = strconv.Atoi(op.MaxTargetSdkVersion)
		}
		seen[op.Name] = true
		result = append(result, permissions.AppOp{Name: op.Name, MaxTargetSdkVersion: maxTargetSdk, Mode: mode})
	}
	return result, nil
}

func (p *Parser) checkAppOp(role string, op xmlAppOp, seen map[string]bool) error {
	fail := func(format string, args ...any) error {
		return &ParseError{Path: p.Path, Message: fmt.Sprintf("role %s: ", role) + fmt.Sprintf(format, args...)}
	}
	if op.Name == "" {
		return fail("app-op without name")
	}
	if seen[op.Name] {
		return fail("duplicate app-op: %s", op.Name)
	}
	if p.AppOpPermission != nil {
		if permission := p.AppOpPermission(op.Name); permission != "" {
			return fail("app-op %s has an associated permission %s", op.Name, permission)
		}
	}
	if _, err := types.ParseAppOpMode(op.Mode); err != nil {
		return fail("app-op %s: %s", op.Name, err.Error())
	}
	if op.MaxTargetSdkVersion != "" {
		if sdk, err := strconv.Atoi(op.MaxTargetSdkVersion); err != nil || sdk < 1 {
			return fail("app-op %s: invalid maxTargetSdkVersion %q", op.Name, op.MaxTargetSdkVersion)
		}
	}
	return nil
}

func (p *Parser) parsePreferredActivities(role *Role, x *xmlPreferredActivities) ([]PreferredActivity, error) {
	if err := p.unknownTags("preferred-activities", x.Unknown); err != nil {
		return nil, err
	}

	var result []PreferredActivity
	for _, pa := range x.PreferredActivities {
		if err := p.unknownTags("preferred-activity", pa.Unknown); err != nil {
			return nil, err
		}
		if len(pa.Activities) != 1 {
			if err := p.invalid("role %s: preferred-activity must have exactly one activity", role.Name); err != nil {
				return nil, err
			}
			continue
		}
		activity, ok, err := p.parseComponent(role.Name, pa.Activities[0])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !role.hasRequiredComponent(activity) {
			if err := p.invalid("role %s: preferred-activity activity is not a required component", role.Name); err != nil {
				return nil, err
			}
			continue
		}

		preferred := PreferredActivity{Activity: activity}
		for _, f := range pa.IntentFilters {
			filter, ok, err := p.parseIntentFilter(role.Name, f)
			if err != nil {
				return nil, err
			}
			if ok {
				preferred.IntentFilterDatas = append(preferred.IntentFilterDatas, filter)
			}
		}
		if len(preferred.IntentFilterDatas) == 0 {
			if err := p.invalid("role %s: preferred-activity without intent-filter", role.Name); err != nil {
				return nil, err
			}
			continue
		}
		result = append(result, preferred)
	}
	return result, nil
}

func (r *Role) hasRequiredComponent(component RequiredComponent) bool {
	for _, c := range r.RequiredComponents {
		if c.equal(component) {
			return true
		}
	}
	return false
}
