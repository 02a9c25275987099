package infra

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"howett.net/plist"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// DefaultAppDirs are scanned for application bundles.
var DefaultAppDirs = []string{"/Applications", "/System/Applications", "~/Applications"}

// BundleCatalog implements domain.AppCatalog by scanning directories for *.app bundles.
type BundleCatalog struct {
	dirs    []string
	homeDir string
	logger  *zap.Logger
}

// NewBundleCatalog creates a catalog over dirs. "~" expands to the user's home.
func NewBundleCatalog(dirs []string, logger *zap.Logger) *BundleCatalog {
	home, _ := os.UserHomeDir()
	return NewBundleCatalogWithHome(dirs, home, logger)
}

// NewBundleCatalogWithHome creates a catalog with a custom home (for testing).
func NewBundleCatalogWithHome(dirs []string, home string, logger *zap.Logger) *BundleCatalog {
	if len(dirs) == 0 {
		dirs = DefaultAppDirs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleCatalog{dirs: dirs, homeDir: home, logger: logger}
}

// InstalledApps lists bundles found in the catalog directories and one level of
// subdirectories (e.g. /Applications/Utilities). Duplicates keep the first hit.
func (c *BundleCatalog) InstalledApps(ctx context.Context, ignoreSystemApps bool) ([]domain.AppInfo, error) {
	seen := make(map[string]struct{})
	var apps []domain.AppInfo

	for _, dir := range c.dirs {
		root := c.ExpandHome(dir)
		system := isSystemDir(root)
		if system && ignoreSystemApps {
			continue
		}
		for _, pattern := range []string{"*.app", "*/*.app"} {
			matches, err := filepath.Glob(filepath.Join(root, pattern))
			if err != nil {
				return nil, err
			}
			for _, bundle := range matches {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				info := c.readBundle(bundle)
				info.System = system
				if _, dup := seen[info.Package]; dup {
					continue
				}
				seen[info.Package] = struct{}{}
				apps = append(apps, info)
			}
		}
	}

	sort.Slice(apps, func(i, j int) bool {
		return strings.ToLower(apps[i].Name) < strings.ToLower(apps[j].Name)
	})
	c.logger.Debug("scanned application bundles", zap.Int("count", len(apps)))
	return apps, nil
}

// Lookup returns the app with the given bundle identifier, or nil.
func (c *BundleCatalog) Lookup(ctx context.Context, pkg string) (*domain.AppInfo, error) {
	apps, err := c.InstalledApps(ctx, false)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].Package == pkg {
			return &apps[i], nil
		}
	}
	return nil, nil
}

// ExpandHome expands ~ to the user's home directory.
func (c *BundleCatalog) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(c.homeDir, path[2:])
	}
	if path == "~" {
		return c.homeDir
	}
	return path
}

func isSystemDir(dir string) bool {
	return strings.HasPrefix(dir, "/System/")
}

// bundleInfo is the subset of Info.plist the catalog reports.
type bundleInfo struct {
	Identifier  string `plist:"CFBundleIdentifier"`
	Name        string `plist:"CFBundleName"`
	DisplayName string `plist:"CFBundleDisplayName"`
	Version     string `plist:"CFBundleShortVersionString"`
	Category    string `plist:"LSApplicationCategoryType"`
	IconFile    string `plist:"CFBundleIconFile"`
}

// readBundle reads Contents/Info.plist, XML or binary. Bundles without a readable
// plist fall back to the directory name for both the name and the identifier.
func (c *BundleCatalog) readBundle(bundle string) domain.AppInfo {
	name := strings.TrimSuffix(filepath.Base(bundle), ".app")
	info := domain.AppInfo{Name: name, Package: name, Enabled: true}

	data, err := os.ReadFile(filepath.Join(bundle, "Contents", "Info.plist"))
	if err != nil {
		return info
	}
	var meta bundleInfo
	if _, err := plist.Unmarshal(data, &meta); err != nil {
		c.logger.Debug("unreadable Info.plist", zap.String("bundle", bundle), zap.Error(err))
		return info
	}

	if meta.Identifier != "" {
		info.Package = meta.Identifier
	}
	if meta.DisplayName != "" {
		info.Name = meta.DisplayName
	} else if meta.Name != "" {
		info.Name = meta.Name
	}
	info.Version = meta.Version
	info.Category = strings.TrimPrefix(meta.Category, "public.app-category.")
	if icon := meta.IconFile; icon != "" {
		if filepath.Ext(icon) == "" {
			icon += ".icns"
		}
		info.Icon = filepath.Join(bundle, "Contents", "Resources", icon)
	}
	return info
}

// Ensure BundleCatalog implements domain.AppCatalog.
var _ domain.AppCatalog = (*BundleCatalog)(nil)
