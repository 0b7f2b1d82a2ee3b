package backup

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/types"
)

var log = logging.GetLogger("backup")

const (
	Version = 1

	DelayedRestoreFileName = "delayed_restore_permissions.xml"
)

var ErrUnsupportedVersion = errors.New("unsupported backup version")

// region XML

type permissionBackup struct {
	XMLName  xml.Name        `xml:"perm-grant-backup"`
	Version  int             `xml:"version,attr"`
	RtGrants runtimeGrantSet `xml:"rt-grants"`
}

type runtimeGrantSet struct {
	Packages []PackageGrants `xml:"pkg"`
}

// PackageGrants is the backed up state of the runtime permissions of a package
type PackageGrants struct {
	Name        string            `xml:"name,attr"`
	Permissions []PermissionGrant `xml:"perm"`
}

type PermissionGrant struct {
	Name        string `xml:"name,attr"`
	Granted     bool   `xml:"g,attr,omitempty"`
	UserSet     bool   `xml:"set,attr,omitempty"`
	UserFixed   bool   `xml:"fixed,attr,omitempty"`
	WasReviewed bool   `xml:"was-reviewed,attr,omitempty"`
}

func decode(r io.Reader) ([]PackageGrants, error) {
	var doc permissionBackup
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed backup: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	return doc.RtGrants.Packages, nil
}

func encode(w io.Writer, packages []PackageGrants) error {
	doc := permissionBackup{Version: Version, RtGrants: runtimeGrantSet{Packages: packages}}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// endregion XML

// Helper backs up and restores the runtime permission grants of a user
type Helper struct {
	perms *permissions.Reconciler
	pm    packagemanager.PackageManager
	// delayed holds the grants of packages which were not installed at restore time
	delayed string
	// memory replaces the delayed file when there is no data directory
	memory map[string]PackageGrants
	mu     sync.Mutex
}

// NewHelper returns a Helper keeping its delayed restore file in dataDir. With an empty
// dataDir the delayed grants are only kept in memory.
func NewHelper(perms *permissions.Reconciler, dataDir string) *Helper {
	var delayed string
	if dataDir != "" {
		delayed = filepath.Join(dataDir, DelayedRestoreFileName)
	}
	return &Helper{perms: perms, pm: perms.PackageManager(), delayed: delayed, memory: make(map[string]PackageGrants)}
}

// Backup writes the runtime permission state of the installed packages
func (h *Helper) Backup(w io.Writer, user types.UserHandle) error {
	var packages []PackageGrants
	for _, info := range h.pm.InstalledPackages(user) {
		if grants := h.packageGrants(info, user); len(grants.Permissions) > 0 {
			packages = append(packages, grants)
		}
	}
	log.Info().Msgf("backing up the permissions of %d packages", len(packages))
	return encode(w, packages)
}

func (h *Helper) packageGrants(info types.PackageInfo, user types.UserHandle) PackageGrants {
	grants := PackageGrants{Name: info.PackageName}
	requested := append([]string(nil), info.RequestedPermissions...)
	sort.Strings(requested)

	for _, permission := range requested {
		permissionInfo, err := h.pm.PermissionInfo(permission)
		if err != nil || !permissionInfo.IsRuntime() {
			continue
		}
		flags := h.pm.Flags(info.PackageName, permission, user)
		if flags.HasAny(types.FlagSystemFixed | types.FlagPolicyFixed | types.FlagGrantedByDefault | types.FlagGrantedByRole) {
			continue
		}

		grant := PermissionGrant{
			Name:        permission,
			Granted:     h.pm.IsGranted(info.PackageName, permission, user) && !flags.Has(types.FlagReviewRequired),
			UserSet:     flags.Has(types.FlagUserSet),
			UserFixed:   flags.Has(types.FlagUserFixed),
			WasReviewed: info.TargetSdkVersion < types.SdkM && !flags.Has(types.FlagReviewRequired),
		}
		if grant.Granted || grant.UserSet || grant.UserFixed || grant.WasReviewed {
			grants.Permissions = append(grants.Permissions, grant)
		}
	}
	return grants
}

// Restore applies a backup. Grants of packages which are not installed are kept in
// the delayed restore file until RestoreDelayed is called for them.
func (h *Helper) Restore(r io.Reader, user types.UserHandle) error {
	packages, err := decode(r)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delayed := h.loadDelayedLocked()
	for _, grants := range packages {
		if _, err := h.pm.PackageInfo(grants.Name, user); err != nil {
			log.Debug().Msgf("delaying restore of %s", grants.Name)
			delayed[grants.Name] = grants
			continue
		}
		h.apply(grants, user)
		delete(delayed, grants.Name)
	}
	h.storeDelayedLocked(delayed)
	return nil
}

// RestoreDelayed applies the delayed grants of a package once it is installed, it
// returns whether there was anything to restore
func (h *Helper) RestoreDelayed(packageName string, user types.UserHandle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	delayed := h.loadDelayedLocked()
	grants, ok := delayed[packageName]
	if !ok {
		return false
	}
	if _, err := h.pm.PackageInfo(packageName, user); err != nil {
		return false
	}

	h.apply(grants, user)
	delete(delayed, packageName)
	h.storeDelayedLocked(delayed)
	return true
}

// Delayed returns the names of the packages waiting to be restored
func (h *Helper) Delayed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for name := range h.loadDelayedLocked() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Helper) apply(grants PackageGrants, user types.UserHandle) {
	info, err := h.pm.PackageInfo(grants.Name, user)
	if err != nil {
		return
	}

	var granted []string
	for _, grant := range grants.Permissions {
		if !info.IsRequested(grant.Name) {
			continue
		}
		if h.pm.Flags(grants.Name, grant.Name, user).HasAny(types.FlagSystemFixed | types.FlagPolicyFixed) {
			continue
		}
		if grant.Granted {
			granted = append(granted, grant.Name)
		}
	}
	if len(granted) > 0 {
		h.perms.Grant(grants.Name, granted, permissions.GrantOptions{OverrideUserSetAndFixed: true}, user)
	}

	for _, grant := range grants.Permissions {
		if !info.IsRequested(grant.Name) {
			continue
		}
		var flags types.PermissionFlags
		if grant.UserSet {
			flags |= types.FlagUserSet
		}
		if grant.UserFixed {
			flags |= types.FlagUserFixed
		}
		mask := types.FlagUserSet | types.FlagUserFixed
		if grant.WasReviewed || grant.Granted {
			mask |= types.FlagReviewRequired
		}
		if !h.pm.Flags(grants.Name, grant.Name, user).HasAny(types.FlagSystemFixed | types.FlagPolicyFixed) {
			h.pm.SetFlags(grants.Name, grant.Name, flags, mask, user)
		}
	}
	log.Info().Msgf("restored %d permissions of %s", len(grants.Permissions), grants.Name)
}

func (h *Helper) loadDelayedLocked() map[string]PackageGrants {
	result := make(map[string]PackageGrants)
	if h.delayed == "" {
		for name, grants := range h.memory {
			result[name] = grants
		}
		return result
	}

	data := prefs.ReadStoredFile(h.delayed)
	if data == nil {
		return result
	}
	packages, err := decode(bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msgf("ignoring %s", h.delayed)
		return result
	}
	for _, p := range packages {
		result[p.Name] = p
	}
	return result
}

func (h *Helper) storeDelayedLocked(delayed map[string]PackageGrants) {
	if h.delayed == "" {
		h.memory = delayed
		return
	}
	if len(delayed) == 0 {
		if err := os.Remove(h.delayed); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Msgf("failed to delete %s", h.delayed)
		}
		return
	}

	var names []string
	for name := range delayed {
		names = append(names, name)
	}
	sort.Strings(names)
	var packages []PackageGrants
	for _, name := range names {
		packages = append(packages, delayed[name])
	}

	var buf bytes.Buffer
	if err := encode(&buf, packages); err != nil {
		log.Error().Err(err).Msg("failed to encode the delayed restore")
		return
	}
	if err := prefs.WriteFileAtomic(h.delayed, buf.Bytes()); err != nil {
		log.Error().Err(err).Msgf("failed to write %s", h.delayed)
	}
}
