// Package classify maps process names to tracking categories.
// All matching is case-insensitive; the functions are pure and hold no state.
package classify

import "strings"

// System processes and services that are never tracked. Matched by exact name
// or prefix.
var systemProcesses = []string{
	// Windows system core
	"svchost", "conhost", "dwm", "explorer", "winlogon", "lsass", "services",
	"spoolsv", "smss", "csrss", "wininit", "system", "registry", "idle",

	// Search and shell
	"SearchIndexer", "SearchApp", "SearchProtocolHost", "SearchFilterHost",
	"taskhostw", "taskhost", "backgroundTaskHost", "RuntimeBroker",
	"ApplicationFrameHost", "ShellExperienceHost", "StartMenuExperienceHost",
	"Cortana", "MoUsoCoreWorker", "tiworker",

	// Driver and audio hosts
	"audiodg", "fontdrvhost", "RtkAudUService", "igfxEM", "igfxHK",
	"NvBackend", "NvTelemetry", "atiesrxx", "atieclxx", "RadeonSoftware",

	// Security
	"SecurityHealthService", "SecurityHealthSystray", "MsSense", "MpCmdRun",

	// Developer background services (not user apps)
	"code-cli", "code-server", "ServiceHub", "VsHub", "devenv", "msbuild",

	// Server and database services
	"w3wp", "iisexpress", "sqlservr", "postgres", "mongodb", "redis", "mariadb",

	// Shells and runtimes
	"cmd", "powershell", "pwsh", "bash", "sh", "cscript", "wscript",
	"java", "javaw", "node", "python", "dotnet",

	// Telemetry and plumbing
	"CompatTelRunner", "diagtrack", "SysMain", "UpdateOrchestrator",
	"wmiprvse", "WmiPrvSE", "dllhost", "taskmgr",
}

// Applications commonly left running without focus; tracked as background
// presence. Matched by substring.
var backgroundApps = []string{
	"Discord", "Spotify", "Slack", "Teams", "Skype", "WhatsApp", "Telegram",
	"Signal", "Steam", "Epic", "BattleNet", "Origin", "VLC", "iTunes",
	"foobar2000", "OBS", "Streamlabs", "Twitch", "Zoom", "TeamViewer",
	"Anydesk", "Chrome", "Firefox", "Edge", "msedge", "Opera", "Vivaldi",
	"OneDrive", "Dropbox", "GoogleDrive", "Thunderbird", "Outlook", "Code",
	"Notepad++", "sublime", "IntelliJ", "PyCharm", "WebStorm", "Photoshop",
	"Illustrator", "Premiere", "GIMP", "Blender", "Unity", "Godot",
	"Minecraft", "Dota2", "CSGO", "Valorant", "Fortnite", "Notion",
	"Obsidian", "OneNote", "Evernote", "SourceTree", "GitKraken", "Putty",
	"WinSCP", "FileZilla", "Audacity", "Handbrake",
}

// Window owners whose focus events are always dropped.
var systemWindowApps = []string{"dwm", "searchindexer", "taskhostw", "svchost"}

// IsSystemProcess reports whether a process name belongs to the system-process
// blacklist (exact or prefix match).
func IsSystemProcess(name string) bool {
	for _, sys := range systemProcesses {
		if strings.EqualFold(name, sys) || hasFoldPrefix(name, sys) {
			return true
		}
	}
	return false
}

// IsBackgroundApp reports whether a process name matches the curated list of
// applications commonly run in the background. System processes are never
// background apps.
func IsBackgroundApp(name string) bool {
	if IsSystemProcess(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, bg := range backgroundApps {
		if strings.Contains(lower, strings.ToLower(bg)) {
			return true
		}
	}
	return false
}

// IsSystemWindow reports whether a focus event should be dropped before it
// reaches the session state machine: empty titles and core system hosts.
func IsSystemWindow(appName, windowTitle string) bool {
	if strings.TrimSpace(windowTitle) == "" {
		return true
	}
	lower := strings.ToLower(appName)
	for _, sys := range systemWindowApps {
		if strings.Contains(lower, sys) {
			return true
		}
	}
	return false
}

func hasFoldPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}
