package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// The boot job runs `screentime boot` once per login (RunAtLoad). Boot recovery
// decides whether anything needs to be restarted, so the job is not kept alive.
const bootJobTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>boot</string>
        <string>--data-dir</string>
        <string>{{.DataDir}}</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>
{{- if .Background}}

    <key>ProcessType</key>
    <string>Background</string>
{{- end}}
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	DataDir        string
	LogPath        string
	ErrorLogPath   string
	Background     bool
}

// LaunchdManagerImpl implements domain.LaunchAgentManager for both modes.
type LaunchdManagerImpl struct {
	mode      ExecMode
	plistDir  string
	plistPath string
	dataDir   string
	runner    func(name string, args ...string) error
}

// NewLaunchdManager creates a launchd manager based on execution mode.
func NewLaunchdManager(config *ExecModeConfig) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		mode:      config.Mode,
		plistDir:  config.PlistDir,
		plistPath: config.PlistPath,
		dataDir:   config.DataDir,
		runner: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		DataDir:        m.dataDir,
		LogPath:        filepath.Join(m.dataDir, "boot.log"),
		ErrorLogPath:   filepath.Join(m.dataDir, "boot.error.log"),
		Background:     m.mode == ExecModeUser,
	}

	tmpl, err := template.New("plist").Parse(bootJobTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes and loads the boot job.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}
	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.load()
}

// Uninstall unloads and removes the boot job.
func (m *LaunchdManagerImpl) Uninstall() error {
	_ = m.unload() // not loaded is fine
	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the plist exists.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what execPath would produce.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// Update rewrites the plist and reloads it.
func (m *LaunchdManagerImpl) Update(execPath string) error {
	_ = m.unload()
	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	return m.load()
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// GetMode returns the current execution mode.
func (m *LaunchdManagerImpl) GetMode() ExecMode {
	return m.mode
}

// `launchctl load` is deprecated but still supported and works for both domains.
func (m *LaunchdManagerImpl) load() error {
	return m.runner("launchctl", "load", m.plistPath)
}

func (m *LaunchdManagerImpl) unload() error {
	return m.runner("launchctl", "unload", m.plistPath)
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
