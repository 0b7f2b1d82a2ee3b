package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/repr"
)

// region Pair

type Pair[K interface{}, V interface{}] struct {
	First  K
	Second V
}

// endregion Pair

// region UserHandle

type UserHandle int

const (
	UserSystem UserHandle = 0
	UserNull   UserHandle = -10000
)

func (u UserHandle) String() string {
	return fmt.Sprintf("UserHandle{%d}", int(u))
}

// endregion UserHandle

// region UserPackage

// UserPackage identifies a package installed for a given user
type UserPackage struct {
	PackageName string
	User        UserHandle
}

func NewUserPackage(packageName string, user UserHandle) UserPackage {
	return UserPackage{PackageName: packageName, User: user}
}

func (u UserPackage) String() string {
	return repr.String(u)
}

// endregion UserPackage

// region ComponentName

type ComponentName struct {
	PackageName string
	ClassName   string
}

func (c ComponentName) FlattenToString() string {
	return fmt.Sprintf("%s/%s", c.PackageName, c.ClassName)
}

func (c ComponentName) String() string {
	return fmt.Sprintf("ComponentInfo{%s}", c.FlattenToString())
}

// endregion ComponentName

// region Intent

type Intent struct {
	Action     string
	Categories []string
	// Data is the intent uri, only its scheme takes part in matching
	Data      string
	MimeType  string
	Package   string
	Component *ComponentName
	Extras    map[string]string
}

func NewIntent(action string) *Intent {
	return &Intent{Action: action, Extras: make(map[string]string)}
}

func (i *Intent) AddCategory(category string) *Intent {
	i.Categories = append(i.Categories, category)
	return i
}

func (i *Intent) SetPackage(packageName string) *Intent {
	i.Package = packageName
	return i
}

func (i *Intent) PutExtra(key string, value string) *Intent {
	if i.Extras == nil {
		i.Extras = make(map[string]string)
	}
	i.Extras[key] = value
	return i
}

// Scheme returns the scheme part of the intent data, empty if there is no data
func (i Intent) Scheme() string {
	if idx := strings.Index(i.Data, ":"); idx > 0 {
		return i.Data[:idx]
	}
	return ""
}

func (i Intent) String() string {
	var sb []string
	if i.Action != "" {
		sb = append(sb, fmt.Sprintf("-a %s", i.Action))
	}

	if i.Data != "" {
		sb = append(sb, fmt.Sprintf("-d %s", i.Data))
	}

	if i.MimeType != "" {
		sb = append(sb, fmt.Sprintf("-t %s", i.MimeType))
	}

	for _, category := range i.Categories {
		sb = append(sb, fmt.Sprintf("-c %s", category))
	}

	if i.Component != nil {
		sb = append(sb, fmt.Sprintf("-n %s", i.Component.FlattenToString()))
	}

	if i.Package != "" {
		sb = append(sb, fmt.Sprintf("-p %s", i.Package))
	}

	for k, v := range i.Extras {
		sb = append(sb, fmt.Sprintf("--es %s %s", k, v))
	}

	return strings.Join(sb, " ")
}

// endregion Intent

// region IntentFilter

// IntentFilter is a filter declared by an installed component
type IntentFilter struct {
	Actions     []string `yaml:"actions"`
	Categories  []string `yaml:"categories"`
	DataSchemes []string `yaml:"schemes"`
	DataTypes   []string `yaml:"types"`
	Priority    int      `yaml:"priority"`
}

// Match reports whether the intent passes the action, category and data tests of the filter
func (f IntentFilter) Match(intent Intent) bool {
	if intent.Action != "" && !contains(f.Actions, intent.Action) {
		return false
	}
	if intent.Action == "" && len(f.Actions) == 0 {
		return false
	}
	for _, category := range intent.Categories {
		if !contains(f.Categories, category) {
			return false
		}
	}

	scheme := intent.Scheme()
	if scheme != "" {
		if !contains(f.DataSchemes, scheme) {
			return false
		}
	} else if len(f.DataSchemes) > 0 {
		return false
	}

	if intent.MimeType != "" {
		matched := false
		for _, t := range f.DataTypes {
			if MimeTypeMatches(t, intent.MimeType) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	} else if len(f.DataTypes) > 0 {
		return false
	}
	return true
}

// MimeTypeMatches compares two mime types, either of them can use a "*" wildcard
// for the type or the sub type
func MimeTypeMatches(filterType string, intentType string) bool {
	fType, fSub := splitMimeType(filterType)
	iType, iSub := splitMimeType(intentType)
	if fType != "*" && iType != "*" && fType != iType {
		return false
	}
	return fSub == "*" || iSub == "*" || fSub == iSub
}

func splitMimeType(mimeType string) (string, string) {
	parts := strings.SplitN(strings.ToLower(mimeType), "/", 2)
	if len(parts) == 1 {
		return parts[0], "*"
	}
	return parts[0], parts[1]
}

// IntentFilterData is the single action filter of a role definition
type IntentFilterData struct {
	Action     string
	Categories []string
	DataScheme string
	DataType   string
}

// CreateIntent returns an intent which is matched by this filter data
func (f IntentFilterData) CreateIntent() *Intent {
	intent := NewIntent(f.Action)
	intent.Categories = append(intent.Categories, f.Categories...)
	if f.DataScheme != "" {
		intent.Data = f.DataScheme + ":"
	}
	intent.MimeType = f.DataType
	return intent
}

// CreateIntentFilter returns the filter used to register preferred activities
func (f IntentFilterData) CreateIntentFilter() IntentFilter {
	filter := IntentFilter{Actions: []string{f.Action}}
	filter.Categories = append(filter.Categories, f.Categories...)
	if f.DataScheme != "" {
		filter.DataSchemes = []string{f.DataScheme}
	}
	if f.DataType != "" {
		filter.DataTypes = []string{f.DataType}
	}
	return filter
}

func (f IntentFilterData) String() string {
	return repr.String(f)
}

// endregion IntentFilter

// region ComponentInfo

type ComponentInfo struct {
	PackageName string
	Name        string
	// Permission required to interact with the component, empty if none
	Permission string
	MetaData   map[string]string
}

func (c ComponentInfo) ComponentName() ComponentName {
	return ComponentName{PackageName: c.PackageName, ClassName: c.Name}
}

// ResolveInfo is a single result of an intent query. Only one of the infos is set
// depending on the kind of component which was queried; receivers use ActivityInfo.
type ResolveInfo struct {
	ActivityInfo        *ComponentInfo
	ServiceInfo         *ComponentInfo
	ProviderInfo        *ComponentInfo
	Filter              *IntentFilter
	Priority            int
	HandleAllWebDataURI bool
	System              bool
}

// endregion ComponentInfo

// region PackageInfo

type PackageInfo struct {
	PackageName          string
	Label                string
	TargetSdkVersion     int
	RequestedPermissions []string
	System               bool
	// UpdatedSystemApp is set when a system app was updated over its factory version
	UpdatedSystemApp bool
	Enabled          bool
	InstantApp       bool
	FirstInstallTime time.Time
}

func (p PackageInfo) IsRequested(permission string) bool {
	return contains(p.RequestedPermissions, permission)
}

func (p PackageInfo) String() string {
	return repr.String(p)
}

// endregion PackageInfo

// region SDK versions

const (
	SdkLollipopMR1 = 22
	SdkM           = 23
	SdkP           = 28
	SdkQ           = 29
)

// endregion SDK versions

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
